package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cafesync/internal/model"
	"cafesync/internal/role"
)

func (s *Server) coordinatorRoutes(r *gin.Engine) {
	r.GET("/catalog", func(c *gin.Context) { c.JSON(http.StatusOK, s.coord.Catalog()) })
	r.POST("/catalog", s.addItem)
	r.PUT("/catalog/:id", s.updateItem)
	r.DELETE("/catalog/:id", s.deleteItem)
	r.POST("/catalog/:id/availability", s.setAvailability)

	r.GET("/presentation", func(c *gin.Context) { c.JSON(http.StatusOK, s.coord.Presentation()) })
	r.PUT("/presentation", s.updatePresentation)

	r.GET("/orders", s.listOrders)
	r.GET("/orders/:id", s.getOrder)
	r.POST("/orders/:id/status", s.setStatus)
	r.POST("/orders/:id/advance", s.advance)
	r.DELETE("/orders", func(c *gin.Context) {
		s.coord.ClearOrders()
		c.JSON(http.StatusOK, gin.H{"message": "orders cleared"})
	})

	r.GET("/tables", func(c *gin.Context) { c.JSON(http.StatusOK, s.coord.Tables()) })

	r.GET("/staff-calls", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.coord.StaffCalls(c.Query("all") == "true"))
	})
	r.POST("/staff-calls/:id/resolve", s.resolveCall)
}

func (s *Server) addItem(c *gin.Context) {
	var item model.CatalogItem
	if err := c.ShouldBindJSON(&item); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	got, err := s.coord.AddItem(item)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, got)
}

func (s *Server) updateItem(c *gin.Context) {
	var item model.CatalogItem
	if err := c.ShouldBindJSON(&item); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	item.ID = c.Param("id")
	if err := s.coord.UpdateItem(item); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) deleteItem(c *gin.Context) {
	if err := s.coord.DeleteItem(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) setAvailability(c *gin.Context) {
	var body struct {
		Available *bool `json:"available" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.coord.SetAvailability(c.Param("id"), *body.Available); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "available": *body.Available})
}

func (s *Server) updatePresentation(c *gin.Context) {
	var p model.PresentationProfile
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	got, err := s.coord.UpdatePresentation(p)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, got)
}

func (s *Server) listOrders(c *gin.Context) {
	var f role.OrderFilter
	if v := c.Query("status"); v != "" {
		st, err := model.ParseStatus(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.Status = st
	}
	if v := c.Query("table"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "table must be a number"})
			return
		}
		f.Table = n
	}
	f.ActiveOnly = c.Query("active") == "true"
	c.JSON(http.StatusOK, s.coord.Orders(f))
}

func (s *Server) getOrder(c *gin.Context) {
	o, ok := s.coord.Order(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) setStatus(c *gin.Context) {
	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := model.ParseStatus(body.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := s.coord.SetOrderStatus(c.Request.Context(), c.Param("id"), st)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) advance(c *gin.Context) {
	o, err := s.coord.AdvanceOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) resolveCall(c *gin.Context) {
	if err := s.coord.ResolveStaffCall(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "resolved"})
}
