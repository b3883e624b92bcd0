package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"smis/internal/auth"
	"smis/internal/restapi"
	"smis/internal/store"
	"smis/internal/student"
)

func (s *Server) login(c *gin.Context) {
	var req restapi.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, restapi.Fail(err.Error()))
		return
	}
	if s.creds.PasswordHash == "" || !strings.EqualFold(req.Email, s.creds.Email) ||
		bcrypt.CompareHashAndPassword([]byte(s.creds.PasswordHash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, restapi.Fail("invalid email or password"))
		return
	}
	pair, err := s.signer.Issue(s.creds.UserID, s.creds.Email)
	if err != nil {
		s.logger.Error("token issue failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, restapi.Fail("token issue failed"))
		return
	}
	c.JSON(http.StatusOK, restapi.OK(restapi.Tokens{
		UserID:       s.creds.UserID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.AccessExp.UnixMilli(),
	}, "logged in"))
}

func (s *Server) listStudents(c *gin.Context) {
	var (
		recs []student.Record
		err  error
	)
	if c.Query("limit") != "" || c.Query("offset") != "" {
		limit, _ := strconv.Atoi(c.Query("limit"))
		offset, _ := strconv.Atoi(c.Query("offset"))
		recs, err = s.students.ListPage(c.Request.Context(), limit, offset)
	} else {
		recs, err = s.students.List(c.Request.Context())
	}
	if err != nil {
		s.internalError(c, "list students", err)
		return
	}
	c.JSON(http.StatusOK, restapi.OK(toAPI(recs), ""))
}

func (s *Server) searchStudents(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusBadRequest, restapi.Fail("query parameter q is required"))
		return
	}
	recs, err := s.students.Search(c.Request.Context(), q)
	if err != nil {
		s.internalError(c, "search students", err)
		return
	}
	c.JSON(http.StatusOK, restapi.OK(toAPI(recs), ""))
}

func (s *Server) getStudent(c *gin.Context) {
	rec, err := s.students.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.internalError(c, "get student", err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, restapi.Fail("student not found"))
		return
	}
	c.JSON(http.StatusOK, restapi.OK(restapi.FromRecord(*rec), ""))
}

func (s *Server) createStudent(c *gin.Context) {
	var req restapi.StudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, restapi.Fail(err.Error()))
		return
	}
	rec, err := s.newRecord(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, restapi.Fail(err.Error()))
		return
	}
	if err := s.students.Insert(c.Request.Context(), rec); err != nil {
		s.writeError(c, "create student", err)
		return
	}
	s.logger.Info("student created", slog.String("id", rec.ID), slog.String("user", caller(c)))
	c.JSON(http.StatusCreated, restapi.OK(restapi.FromRecord(rec), "student created"))
}

func (s *Server) updateStudent(c *gin.Context) {
	var req restapi.StudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, restapi.Fail(err.Error()))
		return
	}
	ctx := c.Request.Context()
	rec, err := s.students.Get(ctx, c.Param("id"))
	if err != nil {
		s.internalError(c, "get student", err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, restapi.Fail("student not found"))
		return
	}
	s.apply(rec, req)
	if err := student.Validate(*rec); err != nil {
		c.JSON(http.StatusBadRequest, restapi.Fail(err.Error()))
		return
	}
	if err := s.students.Update(ctx, *rec); err != nil {
		s.writeError(c, "update student", err)
		return
	}
	s.logger.Info("student updated", slog.String("id", rec.ID), slog.String("user", caller(c)))
	c.JSON(http.StatusOK, restapi.OK(restapi.FromRecord(*rec), "student updated"))
}

func (s *Server) deleteStudent(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	rec, err := s.students.Get(ctx, id)
	if err != nil {
		s.internalError(c, "get student", err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, restapi.Fail("student not found"))
		return
	}
	if err := s.students.Delete(ctx, id); err != nil {
		s.internalError(c, "delete student", err)
		return
	}
	s.logger.Info("student deleted", slog.String("id", id), slog.String("user", caller(c)))
	c.JSON(http.StatusOK, restapi.OK(struct{}{}, "student deleted"))
}

// syncStudents upserts a batch. Items carrying an id are matched by it, the
// rest by registration number. An existing row is only overwritten by a
// strictly newer updatedAt; a replay of the stored version is accepted as is
// and anything else counts as a conflict.
func (s *Server) syncStudents(c *gin.Context) {
	// Items are validated individually; one bad record must not fail the batch.
	var reqs []restapi.StudentRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, restapi.Fail(err.Error()))
		return
	}
	ctx := c.Request.Context()
	result := restapi.SyncResult{Errors: []string{}, Accepted: []string{}}
	for _, req := range reqs {
		id, err := s.syncOne(ctx, req)
		switch {
		case errors.Is(err, errConflict):
			result.Conflicts++
		case err != nil:
			label := req.ID
			if label == "" {
				label = req.RegNumber
			}
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", label, err))
		default:
			result.Synced++
			result.Accepted = append(result.Accepted, id)
		}
	}
	s.logger.Info("bulk sync",
		slog.String("user", caller(c)),
		slog.Int("synced", result.Synced),
		slog.Int("conflicts", result.Conflicts),
		slog.Int("errors", len(result.Errors)),
	)
	c.JSON(http.StatusOK, restapi.OK(result, ""))
}

var errConflict = errors.New("stale version")

// syncOne applies one bulk sync item and returns the id of the row that holds it.
func (s *Server) syncOne(ctx context.Context, req restapi.StudentRequest) (string, error) {
	var (
		existing *student.Record
		err      error
	)
	if req.ID != "" {
		existing, err = s.students.Get(ctx, req.ID)
		if err == nil && existing == nil {
			err = store.ErrNotFound
		}
	} else {
		existing, err = s.students.GetByRegistrationNumber(ctx, req.RegNumber)
	}
	if err != nil {
		return "", err
	}
	if existing == nil {
		rec, err := s.newRecord(req)
		if err != nil {
			return "", err
		}
		if err := s.students.Insert(ctx, rec); err != nil {
			return "", err
		}
		return rec.ID, nil
	}

	next := *existing
	s.apply(&next, req)
	switch {
	case req.UpdatedAt == existing.UpdatedAt && student.SameContent(next, *existing):
		return existing.ID, nil
	case req.UpdatedAt <= existing.UpdatedAt:
		return "", errConflict
	}
	if err := student.Validate(next); err != nil {
		return "", err
	}
	if err := s.students.Update(ctx, next); err != nil {
		return "", err
	}
	return next.ID, nil
}

// newRecord builds a server-side row. Server rows are their own remote copy.
func (s *Server) newRecord(req restapi.StudentRequest) (student.Record, error) {
	var rec student.Record
	req.Apply(&rec)
	if err := student.Validate(rec); err != nil {
		return rec, err
	}
	id := uuid.NewString()
	now := s.now().UnixMilli()
	rec.ID = id
	rec.RemoteID = id
	rec.IsSynced = true
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if req.UpdatedAt > 0 {
		rec.UpdatedAt = req.UpdatedAt
	}
	return rec, nil
}

// apply copies an edit onto rec. The client's updatedAt is kept so the device
// and the server agree on the version; without one the server stamps it.
func (s *Server) apply(rec *student.Record, req restapi.StudentRequest) {
	req.Apply(rec)
	if req.UpdatedAt > 0 {
		rec.UpdatedAt = req.UpdatedAt
	} else {
		rec.Touch(s.now().UnixMilli())
	}
	rec.IsSynced = true
}

func (s *Server) writeError(c *gin.Context, op string, err error) {
	if errors.Is(err, store.ErrDuplicate) {
		c.JSON(http.StatusConflict, restapi.Fail("registration number already exists"))
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, restapi.Fail("student not found"))
		return
	}
	s.internalError(c, op, err)
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.logger.Error(op+" failed", slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, restapi.Fail("internal error"))
}

// caller names the authenticated user for logs.
func caller(c *gin.Context) string {
	if claims, ok := auth.FromContext(c); ok {
		return claims.Subject
	}
	return ""
}

func toAPI(recs []student.Record) []restapi.APIStudent {
	out := make([]restapi.APIStudent, 0, len(recs))
	for _, r := range recs {
		out = append(out, restapi.FromRecord(r))
	}
	return out
}
