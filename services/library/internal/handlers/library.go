package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/AfshinJalili/libris/libs/apperr"
	"github.com/AfshinJalili/libris/libs/auth"
	"github.com/AfshinJalili/libris/services/library/internal/service"
	"github.com/AfshinJalili/libris/services/library/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Catalog interface {
	FindBook(ctx context.Context, id string) (*storage.Book, error)
	Search(ctx context.Context, query string, limit int) ([]storage.Book, error)
	ListBooks(ctx context.Context, limit int) ([]storage.Book, error)
	Availability(ctx context.Context, id string) (*service.Availability, error)
}

type Lending interface {
	Lend(ctx context.Context, userID uuid.UUID, req service.LendRequest) (*storage.Lending, error)
	Dashboard(ctx context.Context, userID uuid.UUID) (*service.Dashboard, error)
	Return(ctx context.Context, userID uuid.UUID, lendingID string) (*storage.Lending, error)
	CancelReservation(ctx context.Context, userID uuid.UUID, lendingID string) (*storage.Lending, error)
}

type LibraryHandler struct {
	Catalog   Catalog
	Lending   Lending
	Logger    *slog.Logger
	JWTSecret []byte
}

func NewLibraryHandler(catalog Catalog, lending Lending, logger *slog.Logger, jwtSecret string) *LibraryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LibraryHandler{
		Catalog:   catalog,
		Lending:   lending,
		Logger:    logger,
		JWTSecret: []byte(jwtSecret),
	}
}

func (h *LibraryHandler) RegisterRoutes(r *gin.Engine) {
	books := r.Group("/books", auth.Middleware(h.JWTSecret))
	books.GET("/search", h.SearchBooks)
	books.GET("/all", h.ListBooks)
	books.GET("/:id", h.GetBook)
	books.GET("/:id/availability", h.GetAvailability)

	lending := r.Group("/lending", auth.Middleware(h.JWTSecret))
	lending.POST("/lend", h.Lend)
	lending.GET("/dashboard", h.GetDashboard)
	lending.POST("/:id/return", h.Return)
	lending.POST("/:id/cancel", h.Cancel)
}

type bookResponse struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Author          string  `json:"author"`
	Genre           string  `json:"genre"`
	Description     string  `json:"description"`
	ISBN            *string `json:"isbn"`
	PublishedYear   *int    `json:"published_year"`
	TotalCopies     int     `json:"total_copies"`
	AvailableCopies int     `json:"available_copies"`
}

type bookSummary struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	Genre           string `json:"genre"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
}

type searchResponse struct {
	Books []bookResponse `json:"books"`
	Total int            `json:"total"`
	Query string         `json:"query"`
}

type availabilityResponse struct {
	Book                     bookSummary `json:"book"`
	IsAvailable              bool        `json:"is_available"`
	NextAvailableDate        *string     `json:"next_available_date"`
	CurrentLendingReturnDate *string     `json:"current_lending_return_date"`
}

type lendingResponse struct {
	ID               string  `json:"id"`
	UserID           string  `json:"user_id"`
	BookID           string  `json:"book_id"`
	BookTitle        string  `json:"book_title"`
	LendStartDate    string  `json:"lend_start_date"`
	LendEndDate      string  `json:"lend_end_date"`
	ActualReturnDate *string `json:"actual_return_date"`
	Status           string  `json:"status"`
	CreatedAt        string  `json:"created_at"`
}

type dashboardItem struct {
	ID               string      `json:"id"`
	Book             bookSummary `json:"book"`
	LendStartDate    string      `json:"lend_start_date"`
	LendEndDate      string      `json:"lend_end_date"`
	ActualReturnDate *string     `json:"actual_return_date"`
	Status           string      `json:"status"`
	CreatedAt        string      `json:"created_at"`
	DaysRemaining    *int        `json:"days_remaining"`
	IsOverdue        bool        `json:"is_overdue"`
}

type dashboardResponse struct {
	ActiveLendings     []dashboardItem `json:"active_lendings"`
	ReservedLendings   []dashboardItem `json:"reserved_lendings"`
	LendingHistory     []dashboardItem `json:"lending_history"`
	TotalBooksBorrowed int             `json:"total_books_borrowed"`
}

type lendRequest struct {
	BookID       string `json:"book_id" binding:"required"`
	DurationDays int    `json:"duration_days" binding:"required"`
	StartDate    string `json:"start_date"`
}

const dateLayout = "2006-01-02"

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

func toBookResponse(b storage.Book) bookResponse {
	return bookResponse{
		ID:              b.ID.String(),
		Title:           b.Title,
		Author:          b.Author,
		Genre:           b.Genre,
		Description:     b.Description,
		ISBN:            b.ISBN,
		PublishedYear:   b.PublishedYear,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
	}
}

func toBookResponses(books []storage.Book) []bookResponse {
	out := make([]bookResponse, 0, len(books))
	for _, b := range books {
		out = append(out, toBookResponse(b))
	}
	return out
}

func toBookSummary(b storage.Book) bookSummary {
	return bookSummary{
		ID:              b.ID.String(),
		Title:           b.Title,
		Author:          b.Author,
		Genre:           b.Genre,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
	}
}

func toLendingResponse(l *storage.Lending) lendingResponse {
	return lendingResponse{
		ID:               l.ID.String(),
		UserID:           l.UserID.String(),
		BookID:           l.BookID.String(),
		BookTitle:        l.BookTitle,
		LendStartDate:    l.LendStartDate.Format(dateLayout),
		LendEndDate:      l.LendEndDate.Format(dateLayout),
		ActualReturnDate: formatDate(l.ActualReturnDate),
		Status:           l.Status,
		CreatedAt:        l.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toDashboardItems(items []service.DashboardItem) []dashboardItem {
	out := make([]dashboardItem, 0, len(items))
	for _, it := range items {
		out = append(out, dashboardItem{
			ID:               it.Lending.ID.String(),
			Book:             toBookSummary(it.Book),
			LendStartDate:    it.Lending.LendStartDate.Format(dateLayout),
			LendEndDate:      it.Lending.LendEndDate.Format(dateLayout),
			ActualReturnDate: formatDate(it.Lending.ActualReturnDate),
			Status:           it.Lending.Status,
			CreatedAt:        it.Lending.CreatedAt.UTC().Format(time.RFC3339),
			DaysRemaining:    it.DaysRemaining,
			IsOverdue:        it.IsOverdue,
		})
	}
	return out
}

// queryLimit reads ?limit=. Absent means 0, which lets the service apply
// its default.
func queryLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n == 0 {
		return 0, apperr.Invalid("Invalid limit", []apperr.FieldError{{Field: "limit", Message: "must be a positive integer"}})
	}
	return n, nil
}

func (h *LibraryHandler) SearchBooks(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	query := c.Query("query")
	books, err := h.Catalog.Search(c.Request.Context(), query, limit)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, searchResponse{Books: toBookResponses(books), Total: len(books), Query: query})
}

func (h *LibraryHandler) ListBooks(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	books, err := h.Catalog.ListBooks(c.Request.Context(), limit)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, toBookResponses(books))
}

func (h *LibraryHandler) GetBook(c *gin.Context) {
	book, err := h.Catalog.FindBook(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, toBookResponse(*book))
}

func (h *LibraryHandler) GetAvailability(c *gin.Context) {
	avail, err := h.Catalog.Availability(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, availabilityResponse{
		Book:                     toBookSummary(*avail.Book),
		IsAvailable:              avail.IsAvailable,
		NextAvailableDate:        formatDate(avail.NextAvailableDate),
		CurrentLendingReturnDate: formatDate(avail.CurrentLendingReturnDate),
	})
}

func (h *LibraryHandler) Lend(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	var req lendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c, err)
		return
	}
	lending, err := h.Lending.Lend(c.Request.Context(), userID, service.LendRequest{
		BookID:       req.BookID,
		DurationDays: req.DurationDays,
		StartDate:    req.StartDate,
	})
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, toLendingResponse(lending))
}

func (h *LibraryHandler) GetDashboard(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	dash, err := h.Lending.Dashboard(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, dashboardResponse{
		ActiveLendings:     toDashboardItems(dash.Active),
		ReservedLendings:   toDashboardItems(dash.Reserved),
		LendingHistory:     toDashboardItems(dash.History),
		TotalBooksBorrowed: dash.TotalBorrowed,
	})
}

func (h *LibraryHandler) Return(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	lending, err := h.Lending.Return(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, toLendingResponse(lending))
}

func (h *LibraryHandler) Cancel(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	lending, err := h.Lending.CancelReservation(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, toLendingResponse(lending))
}

func (h *LibraryHandler) userID(c *gin.Context) (uuid.UUID, bool) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		writeError(c, h.Logger, apperr.Unauthorized("missing principal"))
		return uuid.Nil, false
	}
	return p.UserID, true
}
