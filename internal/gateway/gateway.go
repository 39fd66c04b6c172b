// Package gateway is the HTTP edge that calls the Submission Facade.
// Routes mirror the REST surface original_source/rest/*/app.py exposes
// across its auth/reservation/notify services, collapsed onto one
// gin.Engine.
package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"seatraft/internal/authn"
	"seatraft/internal/facade"
	"seatraft/internal/store"
)

type Gateway struct {
	facade *facade.Facade
	store  *store.Store
	issuer *authn.Issuer
	engine *gin.Engine
}

func New(f *facade.Facade, st *store.Store, issuer *authn.Issuer) *Gateway {
	engine := gin.New()
	engine.Use(gin.Recovery())

	g := &Gateway{facade: f, store: st, issuer: issuer, engine: engine}
	g.routes()
	return g
}

// Handler returns an http.Handler with CORS applied, ready to hand to
// http.Server or httptest.
func (g *Gateway) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(g.engine)
}

func (g *Gateway) routes() {
	g.engine.GET("/healthz", g.health)
	g.engine.POST("/register", g.register)
	g.engine.POST("/login", g.login)

	auth := g.engine.Group("/")
	auth.Use(g.requireAuth)
	auth.POST("/reservations", g.createReservation)
	auth.POST("/reservations/:id/checkin", g.checkIn)
	auth.DELETE("/reservations/:id", g.cancelReservation)
	auth.POST("/waitlist", g.addToWaitlist)
	auth.DELETE("/waitlist/:id", g.removeFromWaitlist)
}

func (g *Gateway) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

type registerRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	Password  string `json:"password" binding:"required"`
	Name      string `json:"name" binding:"required"`
}

func (g *Gateway) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := g.facade.Submit("Auth.Register", req)
	if err != nil {
		writeFacadeError(c, err)
		return
	}

	user, err := g.store.UserByStudentID(c.Request.Context(), req.StudentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registered but could not load user", "detail": result})
		return
	}

	token, err := g.issuer.Issue(user.ID, user.StudentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token":      token,
		"user_id":    user.ID,
		"student_id": user.StudentID,
		"name":       user.Name,
	})
}

type loginRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	Password  string `json:"password" binding:"required"`
}

func (g *Gateway) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := g.store.UserByStudentID(c.Request.Context(), req.StudentID)
	if errors.Is(err, store.ErrNotFound) || !authn.CheckPassword(user.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	token, err := g.issuer.Issue(user.ID, user.StudentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"user_id":    user.ID,
		"student_id": user.StudentID,
		"name":       user.Name,
	})
}

func (g *Gateway) requireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	claims, err := g.issuer.Verify(header[len(prefix):])
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	c.Set("user_id", claims.UserID)
	c.Next()
}

type createReservationRequest struct {
	SeatID    int64     `json:"seat_id" binding:"required"`
	StartTime time.Time `json:"start_time" binding:"required"`
	EndTime   time.Time `json:"end_time" binding:"required"`
}

func (g *Gateway) createReservation(c *gin.Context) {
	var req createReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload := struct {
		UserID    int64     `json:"user_id"`
		SeatID    int64     `json:"seat_id"`
		StartTime time.Time `json:"start_time"`
		EndTime   time.Time `json:"end_time"`
	}{
		UserID:    c.GetInt64("user_id"),
		SeatID:    req.SeatID,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	}

	result, err := g.facade.Submit("Reservation.Create", payload)
	if err != nil {
		writeFacadeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"result": result})
}

func (g *Gateway) checkIn(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservation id"})
		return
	}

	result, err := g.facade.Submit("Reservation.CheckIn", gin.H{"reservation_id": id})
	if err != nil {
		writeFacadeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (g *Gateway) cancelReservation(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservation id"})
		return
	}

	result, err := g.facade.Submit("Reservation.Cancel", gin.H{"reservation_id": id})
	if err != nil {
		writeFacadeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

type waitlistRequest struct {
	SeatID *int64  `json:"seat_id"`
	Branch *string `json:"branch"`
}

func (g *Gateway) addToWaitlist(c *gin.Context) {
	var req waitlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.SeatID == nil && req.Branch == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "either seat_id or branch must be provided"})
		return
	}

	payload := gin.H{"user_id": c.GetInt64("user_id")}
	if req.SeatID != nil {
		payload["seat_id"] = *req.SeatID
	}
	if req.Branch != nil {
		payload["branch"] = *req.Branch
	}

	result, err := g.facade.Submit("Waitlist.Add", payload)
	if err != nil {
		writeFacadeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"result": result})
}

func (g *Gateway) removeFromWaitlist(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid waitlist id"})
		return
	}

	result, err := g.facade.Submit("Waitlist.Remove", gin.H{"waitlist_id": id})
	if err != nil {
		writeFacadeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func writeFacadeError(c *gin.Context, err error) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
}
