package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/vzale/apptbooking/internal/domain"
	"github.com/vzale/apptbooking/internal/service/booking"
)

// MockBookingUseCase is a mock implementation of booking.UseCase
type MockBookingUseCase struct {
	mock.Mock
}

func (m *MockBookingUseCase) Book(ctx context.Context, input booking.BookInput) (*domain.Appointment, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Appointment), args.Error(1)
}

func (m *MockBookingUseCase) Reschedule(ctx context.Context, id int64, newAt time.Time) (*domain.Appointment, error) {
	args := m.Called(ctx, id, newAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Appointment), args.Error(1)
}

func (m *MockBookingUseCase) Cancel(ctx context.Context, id int64) (*domain.Appointment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Appointment), args.Error(1)
}

func postJSON(c *gin.Context, target string, payload interface{}) {
	body, _ := json.Marshal(payload)
	c.Request = httptest.NewRequest("POST", target, bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
}

func TestBookingHandler_create(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewBookingHandler(mockService)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	at := time.Date(2025, 9, 8, 10, 0, 0, 0, time.UTC)
	postJSON(c, "/api/bookings", gin.H{
		"name":       "Jane Roe",
		"email":      "jane@example.com",
		"staff_id":   1,
		"service_id": 2,
		"datetime":   at.Format(time.RFC3339),
		"client_id":  "client-a",
	})

	appt := &domain.Appointment{
		ID:          1,
		StrongID:    "APT-2025-000001",
		Status:      domain.StatusConfirmed,
		ScheduledAt: at,
		StaffID:     1,
	}
	mockService.On("Book", c.Request.Context(), booking.BookInput{
		Name:        "Jane Roe",
		Email:       "jane@example.com",
		StaffID:     1,
		ServiceID:   2,
		ScheduledAt: at,
		ClientID:    "client-a",
	}).Return(appt, nil)

	handler.create(c)

	assert.Equal(t, http.StatusCreated, w.Code)

	var response bookingResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "APT-2025-000001", response.StrongID)
	assert.Equal(t, string(domain.StatusConfirmed), response.Status)
	assert.Equal(t, at.Format(time.RFC3339), response.ScheduledAt)

	mockService.AssertExpectations(t)
}

func TestBookingHandler_create_missingFields(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewBookingHandler(mockService)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	postJSON(c, "/api/bookings", gin.H{"name": "Jane Roe"})

	handler.create(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var response map[string]string
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "validation_error", response["error"])
	assert.Equal(t, domain.ReasonMissingField, response["reason"])
	mockService.AssertNotCalled(t, "Book")
}

func TestBookingHandler_create_badDatetime(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewBookingHandler(mockService)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	postJSON(c, "/api/bookings", gin.H{
		"name":       "Jane Roe",
		"email":      "jane@example.com",
		"staff_id":   1,
		"service_id": 2,
		"datetime":   "tomorrow at ten",
	})

	handler.create(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var response map[string]string
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, domain.ReasonInvalidInput, response["reason"])
	mockService.AssertNotCalled(t, "Book")
}

func TestBookingHandler_create_badClientID(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewBookingHandler(mockService)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	at := time.Date(2025, 9, 8, 10, 0, 0, 0, time.UTC)
	postJSON(c, "/api/bookings", gin.H{
		"name":       "Jane Roe",
		"email":      "jane@example.com",
		"staff_id":   1,
		"service_id": 2,
		"datetime":   at.Format(time.RFC3339),
		"client_id":  "client|a",
	})

	handler.create(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var response map[string]string
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, domain.ReasonInvalidInput, response["reason"])
	mockService.AssertNotCalled(t, "Book")
}

func TestBookingHandler_create_slotTaken(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewBookingHandler(mockService)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	at := time.Date(2025, 9, 8, 10, 0, 0, 0, time.UTC)
	postJSON(c, "/api/bookings", gin.H{
		"name":       "Jane Roe",
		"email":      "jane@example.com",
		"staff_id":   1,
		"service_id": 2,
		"datetime":   at.Format(time.RFC3339),
	})

	mockService.On("Book", c.Request.Context(), mock.AnythingOfType("booking.BookInput")).
		Return(nil, &domain.SlotTakenError{Alternatives: []string{"09:00", "09:30", "10:30"}})

	handler.create(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	var response struct {
		Error        string   `json:"error"`
		Alternatives []string `json:"alternatives"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "slot_taken", response.Error)
	assert.Equal(t, []string{"09:00", "09:30", "10:30"}, response.Alternatives)

	mockService.AssertExpectations(t)
}

func TestBookingHandler_create_duplicate(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewBookingHandler(mockService)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	at := time.Date(2025, 9, 8, 10, 0, 0, 0, time.UTC)
	postJSON(c, "/api/bookings", gin.H{
		"name":       "Jane Roe",
		"email":      "jane@example.com",
		"staff_id":   1,
		"service_id": 2,
		"datetime":   at.Format(time.RFC3339),
	})

	mockService.On("Book", c.Request.Context(), mock.AnythingOfType("booking.BookInput")).
		Return(nil, domain.ErrDuplicateSubmission)

	handler.create(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	var response map[string]string
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "duplicate_submission", response["error"])
}

func TestBookingHandler_create_validationReason(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewBookingHandler(mockService)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	at := time.Date(2020, 1, 6, 10, 0, 0, 0, time.UTC)
	postJSON(c, "/api/bookings", gin.H{
		"name":       "Jane Roe",
		"email":      "jane@example.com",
		"staff_id":   1,
		"service_id": 2,
		"datetime":   at.Format(time.RFC3339),
	})

	mockService.On("Book", c.Request.Context(), mock.AnythingOfType("booking.BookInput")).
		Return(nil, domain.Invalid(domain.ReasonPastDate))

	handler.create(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var response map[string]string
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "validation_error", response["error"])
	assert.Equal(t, domain.ReasonPastDate, response["reason"])
}

func TestBookingHandler_reschedule(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewBookingHandler(mockService)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	newAt := time.Date(2025, 9, 8, 11, 0, 0, 0, time.UTC)
	c.Params = gin.Params{{Key: "id", Value: "1"}}
	body, _ := json.Marshal(gin.H{"datetime": newAt.Format(time.RFC3339)})
	c.Request = httptest.NewRequest("PUT", "/api/bookings/1", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	orig := time.Date(2025, 9, 8, 10, 0, 0, 0, time.UTC)
	appt := &domain.Appointment{
		ID:          1,
		StrongID:    "APT-2025-000001",
		Status:      domain.StatusConfirmed,
		ScheduledAt: newAt,
		StaffID:     1,
		OriginalAt:  &orig,
	}
	mockService.On("Reschedule", c.Request.Context(), int64(1), newAt).Return(appt, nil)

	handler.reschedule(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var response bookingResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, newAt.Format(time.RFC3339), response.ScheduledAt)

	mockService.AssertExpectations(t)
}

func TestBookingHandler_cancel(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewBookingHandler(mockService)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	c.Params = gin.Params{{Key: "id", Value: "1"}}
	c.Request = httptest.NewRequest("DELETE", "/api/bookings/1", nil)

	appt := &domain.Appointment{
		ID:          1,
		StrongID:    "APT-2025-000001",
		Status:      domain.StatusCancelled,
		ScheduledAt: time.Date(2025, 9, 8, 10, 0, 0, 0, time.UTC),
		StaffID:     1,
	}
	mockService.On("Cancel", c.Request.Context(), int64(1)).Return(appt, nil)

	handler.cancel(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var response bookingResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, string(domain.StatusCancelled), response.Status)

	mockService.AssertExpectations(t)
}

func TestBookingHandler_cancel_notFound(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewBookingHandler(mockService)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	c.Params = gin.Params{{Key: "id", Value: "999"}}
	c.Request = httptest.NewRequest("DELETE", "/api/bookings/999", nil)

	mockService.On("Cancel", c.Request.Context(), int64(999)).Return(nil, domain.ErrNotFound)

	handler.cancel(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
