package admin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cafesync/internal/model"
	"cafesync/internal/role"
)

type cartView struct {
	Lines []model.LineItem `json:"lines"`
	Total model.Money      `json:"total"`
}

func (s *Server) terminalRoutes(r *gin.Engine) {
	r.GET("/catalog", func(c *gin.Context) { c.JSON(http.StatusOK, s.term.Catalog()) })
	r.GET("/presentation", func(c *gin.Context) { c.JSON(http.StatusOK, s.term.Presentation()) })

	r.GET("/cart", s.cart)
	r.POST("/cart/items", s.addToCart)
	r.PATCH("/cart/items/:line", s.editLine)
	r.DELETE("/cart/items/:line", s.removeLine)
	r.DELETE("/cart", func(c *gin.Context) {
		s.term.ClearCart()
		s.cart(c)
	})
	r.POST("/cart/submit", s.submit)

	r.GET("/ticket", s.ticket)
	r.POST("/staff-calls", s.callStaff)
}

func (s *Server) cart(c *gin.Context) {
	lines, total := s.term.Cart()
	c.JSON(http.StatusOK, cartView{Lines: lines, Total: total})
}

func (s *Server) addToCart(c *gin.Context) {
	var body struct {
		ItemID string `json:"item_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := s.term.AddToCart(body.ItemID); err != nil {
		fail(c, err)
		return
	}
	s.cart(c)
}

func (s *Server) editLine(c *gin.Context) {
	var body struct {
		Quantity *int    `json:"quantity"`
		Note     *string `json:"note"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	line := c.Param("line")
	found := true
	if body.Note != nil {
		found = s.term.SetLineNote(line, *body.Note)
	}
	if found && body.Quantity != nil {
		found = s.term.SetQuantity(line, *body.Quantity)
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "line not in cart"})
		return
	}
	s.cart(c)
}

func (s *Server) removeLine(c *gin.Context) {
	if !s.term.RemoveLine(c.Param("line")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "line not in cart"})
		return
	}
	s.cart(c)
}

// submit answers 201 when the ticket went out and 202 when it was saved
// but could not be sent.
func (s *Server) submit(c *gin.Context) {
	var body struct {
		Note string `json:"note"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	o, err := s.term.Submit(body.Note)
	switch {
	case errors.Is(err, role.ErrEmptyCart):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil && o.ID != "":
		c.JSON(http.StatusAccepted, gin.H{"order": o, "error": err.Error()})
	case err != nil:
		fail(c, err)
	default:
		c.JSON(http.StatusCreated, gin.H{"order": o})
	}
}

func (s *Server) ticket(c *gin.Context) {
	o, ok := s.term.ActiveTicket()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active ticket"})
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) callStaff(c *gin.Context) {
	var body struct {
		Reason  string `json:"reason" binding:"required"`
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sc, err := s.term.CallStaff(model.CallReason(body.Reason), body.Message)
	switch {
	case err != nil && sc.ID != "":
		c.JSON(http.StatusAccepted, gin.H{"staff_call": sc, "error": err.Error()})
	case err != nil:
		fail(c, err)
	default:
		c.JSON(http.StatusCreated, gin.H{"staff_call": sc})
	}
}
