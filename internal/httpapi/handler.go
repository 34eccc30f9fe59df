package httpapi

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/store"
)

const maxFrameBytes = 8 << 20

type Handler struct {
	d         Deps
	registrar *attendance.Registrar

	mu     sync.Mutex
	frames *attendance.LatestFrame // frames of the session started last
}

func NewHandler(d Deps) *Handler {
	return &Handler{d: d, registrar: attendance.NewRegistrar(d.Store, d.Detector)}
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	ctx := c.Request.Context()
	storeOK := h.d.Store.Ping(ctx) == nil
	body := gin.H{"status": "ok", "store": storeOK}
	if h.d.Redis != nil {
		body["redis"] = h.d.Redis.Healthy(ctx)
	}
	if h.d.Face != nil {
		body["face_service"] = h.d.Face.Health(ctx) == nil
	}
	if _, running := h.activeSession(); running {
		body["scanning"] = true
	}
	status := http.StatusOK
	if !storeOK {
		body["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, body)
}

// ---------- Login ----------

func (h *Handler) AdminLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	creds, err := h.d.Store.AdminCredentials(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(creds.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(creds.Password)) == 1
	if !userOK || !passOK {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	h.issue(c, req.Username, auth.RoleAdmin, nil)
}

func (h *Handler) StudentLogin(c *gin.Context) {
	var req struct {
		RollNumber string `json:"roll_number" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.d.Store.Student(c.Request.Context(), strings.TrimSpace(req.RollNumber))
	if err != nil {
		fail(c, err)
		return
	}
	if st == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown roll number"})
		return
	}
	h.issue(c, st.RollNumber, auth.RoleStudent, st)
}

func (h *Handler) issue(c *gin.Context, subject, role string, student *store.Student) {
	tok, err := auth.Issue(subject, role, h.d.JWTIssuer, h.d.JWTSigningKey, h.d.AccessTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	body := gin.H{"access_token": tok.AccessToken, "expires_at": tok.ExpiresAt.Unix(), "role": role}
	if student != nil {
		body["student"] = student
	}
	c.JSON(http.StatusOK, body)
}

// ---------- Student portal ----------

func (h *Handler) currentStudent(c *gin.Context) (*store.Student, bool) {
	claims, _ := auth.ClaimsFrom(c)
	st, err := h.d.Store.Student(c.Request.Context(), claims.Subject)
	if err != nil {
		fail(c, err)
		return nil, false
	}
	if st == nil {
		// deleted after the token was issued
		c.JSON(http.StatusUnauthorized, gin.H{"error": "student no longer exists"})
		return nil, false
	}
	return st, true
}

func (h *Handler) Me(c *gin.Context) {
	st, ok := h.currentStudent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) MyAttendance(c *gin.Context) {
	st, ok := h.currentStudent(c)
	if !ok {
		return
	}
	records, err := h.d.Store.Attendance(c.Request.Context(), store.AttendanceFilter{
		RollNumber: st.RollNumber,
		Subject:    c.Query("subject"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(records))
}

func (h *Handler) MyStats(c *gin.Context) {
	st, ok := h.currentStudent(c)
	if !ok {
		return
	}
	stats, err := attendance.Stats(c.Request.Context(), h.d.Store, st.RollNumber)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ---------- Students ----------

// ListStudents lists students in registration order. ?q= keeps those whose
// name or roll number contains q, ignoring case.
func (h *Handler) ListStudents(c *gin.Context) {
	students, err := h.d.Store.Students(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if q := strings.ToLower(strings.TrimSpace(c.Query("q"))); q != "" {
		filtered := students[:0]
		for _, st := range students {
			if strings.Contains(strings.ToLower(st.Name), q) || strings.Contains(strings.ToLower(st.RollNumber), q) {
				filtered = append(filtered, st)
			}
		}
		students = filtered
	}
	c.JSON(http.StatusOK, nonNil(students))
}

// CreateStudent registers a student. With a descriptor, or a multipart
// "image" to take one from, the student and the descriptor are stored together.
func (h *Handler) CreateStudent(c *gin.Context) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		h.createStudentFromFrame(c)
		return
	}
	var req struct {
		RollNumber string    `json:"roll_number" binding:"required"`
		Name       string    `json:"name" binding:"required"`
		Descriptor []float32 `json:"descriptor"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if len(req.Descriptor) > 0 {
		st, err := h.registrar.Register(ctx, req.RollNumber, req.Name, req.Descriptor)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, st)
		return
	}
	if err := h.d.Store.AddStudent(ctx, store.Student{RollNumber: req.RollNumber, Name: req.Name}); err != nil {
		fail(c, err)
		return
	}
	st, err := h.d.Store.Student(ctx, strings.TrimSpace(req.RollNumber))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (h *Handler) createStudentFromFrame(c *gin.Context) {
	roll, name := c.PostForm("roll_number"), c.PostForm("name")
	if strings.TrimSpace(roll) == "" || strings.TrimSpace(name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roll_number and name required"})
		return
	}
	frame, err := readFrame(c)
	if err != nil {
		fail(c, err)
		return
	}
	st, err := h.registrar.RegisterFrame(c.Request.Context(), roll, name, frame)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (h *Handler) GetStudent(c *gin.Context) {
	st, err := h.requireStudent(c)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) RenameStudent(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	roll := c.Param("roll")
	ok, err := h.d.Store.UpdateStudentName(c.Request.Context(), roll, req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	if !ok {
		fail(c, studentNotFound(roll))
		return
	}
	st, err := h.d.Store.Student(c.Request.Context(), roll)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) DeleteStudent(c *gin.Context) {
	if err := h.d.Store.DeleteStudent(c.Request.Context(), c.Param("roll")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) StudentStats(c *gin.Context) {
	st, err := h.requireStudent(c)
	if err != nil {
		fail(c, err)
		return
	}
	stats, err := attendance.Stats(c.Request.Context(), h.d.Store, st.RollNumber)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) requireStudent(c *gin.Context) (*store.Student, error) {
	roll := c.Param("roll")
	st, err := h.d.Store.Student(c.Request.Context(), roll)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, studentNotFound(roll)
	}
	return st, nil
}

func studentNotFound(roll string) error {
	return fmt.Errorf("student %q: %w", roll, store.ErrNotFound)
}

// ---------- Descriptors ----------

func (h *Handler) PutDescriptor(c *gin.Context) {
	var req struct {
		Descriptor []float32 `json:"descriptor" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.requireStudent(c)
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.d.Store.SaveDescriptor(c.Request.Context(), st.RollNumber, req.Descriptor); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetDescriptor(c *gin.Context) {
	roll := c.Param("roll")
	desc, err := h.d.Store.Descriptor(c.Request.Context(), roll)
	if err != nil {
		fail(c, err)
		return
	}
	if desc == nil {
		fail(c, fmt.Errorf("descriptor for %q: %w", roll, store.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, store.FaceDescriptor{RollNumber: roll, Descriptor: desc})
}

func (h *Handler) DeleteDescriptor(c *gin.Context) {
	if err := h.d.Store.DeleteDescriptor(c.Request.Context(), c.Param("roll")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Capture returns the descriptor of the face in the posted frame so the admin
// can review it before registering.
func (h *Handler) Capture(c *gin.Context) {
	frame, err := readFrame(c)
	if err != nil {
		fail(c, err)
		return
	}
	desc, err := h.registrar.Capture(c.Request.Context(), frame)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"descriptor": desc})
}

// ---------- Subjects ----------

func (h *Handler) ListSubjects(c *gin.Context) {
	subjects, err := h.d.Store.Subjects(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(subjects))
}

func (h *Handler) CreateSubject(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := h.d.Store.AddSubject(c.Request.Context(), req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"name": req.Name, "created": created})
}

// DeleteSubject stops a scan running for the subject before deleting it.
func (h *Handler) DeleteSubject(c *gin.Context) {
	name := c.Param("name")
	if h.d.Scanner != nil {
		if sess := h.d.Scanner.Active(); sess != nil && sess.Subject == name {
			sess.Stop()
		}
	}
	if err := h.d.Store.DeleteSubject(c.Request.Context(), name); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------- Attendance ----------

func (h *Handler) ListAttendance(c *gin.Context) {
	f := store.AttendanceFilter{
		RollNumber: c.Query("roll"),
		Subject:    c.Query("subject"),
		Date:       c.Query("date"),
	}
	if f.Date != "" {
		if _, err := time.Parse(store.DateLayout, f.Date); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
	}
	records, err := h.d.Store.Attendance(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(records))
}

func (h *Handler) TodayAttendance(c *gin.Context) {
	records, err := h.d.Store.TodayAttendance(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": h.d.Store.Today(), "records": nonNil(records)})
}

// ---------- Dashboard ----------

// Dashboard returns the admin counters. With redis configured the per-subject
// counts for today come from the worker's tally.
func (h *Handler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()
	o, err := attendance.Dashboard(ctx, h.d.Store)
	if err != nil {
		fail(c, err)
		return
	}
	if h.d.Redis != nil {
		tally, err := h.d.Redis.Tally(ctx, o.Date)
		if err != nil {
			log.Printf("dashboard: %v", err)
		} else {
			for i := range o.PerSubject {
				o.PerSubject[i].Today = tally[o.PerSubject[i].Subject]
			}
			o.TodaySource = attendance.SourceTally
		}
	}
	c.JSON(http.StatusOK, o)
}

// ---------- Recognition and scanning ----------

// Recognize matches the face in one frame without recording anything.
func (h *Handler) Recognize(c *gin.Context) {
	frame, err := readFrame(c)
	if err != nil {
		fail(c, err)
		return
	}
	ctx := c.Request.Context()
	desc, err := h.d.Detector.Detect(ctx, frame)
	if err != nil {
		fail(c, err)
		return
	}
	match, ok, err := h.d.Matcher.Recognize(ctx, desc)
	if err != nil {
		fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"matched": false, "threshold": h.d.Matcher.Threshold()})
		return
	}
	st, err := h.d.Store.Student(ctx, match.RollNumber)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matched": st != nil, "match": match, "student": st, "threshold": h.d.Matcher.Threshold()})
}

type sessionView struct {
	ID        string            `json:"id"`
	Subject   string            `json:"subject"`
	StartedAt time.Time         `json:"started_at"`
	Running   bool              `json:"running"`
	Seen      []string          `json:"seen"`
	Marks     []attendance.Mark `json:"marks"`
}

func viewOf(sess *attendance.Session) sessionView {
	return sessionView{
		ID:        sess.ID,
		Subject:   sess.Subject,
		StartedAt: sess.StartedAt,
		Running:   sess.Running(),
		Seen:      sess.Seen(),
		Marks:     sess.Marks(),
	}
}

func (h *Handler) StartScan(c *gin.Context) {
	var req struct {
		Subject string `json:"subject"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	frames := attendance.NewLatestFrame()
	sess, err := h.d.Scanner.Start(c.Request.Context(), req.Subject, frames)
	if err != nil {
		fail(c, err)
		return
	}
	h.mu.Lock()
	h.frames = frames
	h.mu.Unlock()
	c.JSON(http.StatusCreated, viewOf(sess))
}

// PushFrame hands a webcam snapshot to the running session. Only the newest
// frame is kept between ticks.
func (h *Handler) PushFrame(c *gin.Context) {
	frames, running := h.activeSession()
	if !running {
		fail(c, attendance.ErrNoSession)
		return
	}
	frame, err := readFrame(c)
	if err != nil {
		fail(c, err)
		return
	}
	if err := frames.Push(frame); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) StopScan(c *gin.Context) {
	sess, err := h.d.Scanner.Stop()
	if err != nil {
		fail(c, err)
		return
	}
	marks := sess.Marks()
	c.JSON(http.StatusOK, gin.H{"session": viewOf(sess), "marked": len(marks)})
}

func (h *Handler) ScanStatus(c *gin.Context) {
	threshold := h.d.Matcher.Threshold()
	sess := h.d.Scanner.Active()
	if sess == nil {
		c.JSON(http.StatusOK, gin.H{"active": false, "threshold": threshold})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": true, "session": viewOf(sess), "threshold": threshold})
}

func (h *Handler) activeSession() (*attendance.LatestFrame, bool) {
	if h.d.Scanner == nil || h.d.Scanner.Active() == nil {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frames, h.frames != nil
}

// ---------- Settings ----------

func (h *Handler) UpdateCredentials(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.d.Store.SaveAdminCredentials(c.Request.Context(), req.Username, req.Password); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearData stops any scan first so nothing is written after the wipe.
func (h *Handler) ClearData(c *gin.Context) {
	if h.d.Scanner != nil {
		if _, err := h.d.Scanner.Stop(); err != nil && !errors.Is(err, attendance.ErrNoSession) {
			fail(c, err)
			return
		}
	}
	if err := h.d.Store.Clear(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------- helpers ----------

// readFrame accepts a multipart "image" file or a JSON body holding a base64
// image, optionally as a data URL.
func readFrame(c *gin.Context) ([]byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, _, err := c.Request.FormFile("image")
		if err != nil {
			return nil, errBadFrame
		}
		defer file.Close()
		frame, err := io.ReadAll(io.LimitReader(file, maxFrameBytes))
		if err != nil || len(frame) == 0 {
			return nil, errBadFrame
		}
		return frame, nil
	}
	var body struct {
		Data string `json:"data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, errBadFrame
	}
	data := body.Data
	if strings.HasPrefix(data, "data:") {
		if _, rest, ok := strings.Cut(data, ","); ok {
			data = rest
		}
	}
	frame, err := base64.StdEncoding.DecodeString(data)
	if err != nil || len(frame) == 0 {
		return nil, errBadFrame
	}
	return frame, nil
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
