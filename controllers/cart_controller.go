package controllers

import (
	"net/http"

	"pos-service/middleware"
	"pos-service/models"
	"pos-service/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CartController serves the cashier's session cart.
type CartController struct {
	cartService services.CartService
	logger      *zap.Logger
}

func NewCartController(carts services.CartService, logger *zap.Logger) *CartController {
	return &CartController{cartService: carts, logger: logger}
}

// GetCart handles GET /cart
func (cc *CartController) GetCart(c *gin.Context) {
	cart, err := cc.cartService.GetCart(c.Request.Context(), middleware.GetSessionID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

// AddItem handles POST /cart/items
func (cc *CartController) AddItem(c *gin.Context) {
	var req models.AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	cart, err := cc.cartService.AddItem(c.Request.Context(), middleware.GetSessionID(c), req.ProductID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

// IncrementItem handles POST /cart/items/:product_id/increment
func (cc *CartController) IncrementItem(c *gin.Context) {
	cart, err := cc.cartService.IncrementItem(c.Request.Context(), middleware.GetSessionID(c), c.Param("product_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

// DecrementItem handles POST /cart/items/:product_id/decrement
func (cc *CartController) DecrementItem(c *gin.Context) {
	cart, err := cc.cartService.DecrementItem(c.Request.Context(), middleware.GetSessionID(c), c.Param("product_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

// ClearCart handles DELETE /cart
func (cc *CartController) ClearCart(c *gin.Context) {
	if err := cc.cartService.Clear(c.Request.Context(), middleware.GetSessionID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cart cleared"})
}

// Checkout handles POST /cart/checkout. The cart is kept until the order is
// reported paid.
func (cc *CartController) Checkout(c *gin.Context) {
	res, err := cc.cartService.Checkout(c.Request.Context(), middleware.GetSessionID(c))
	if err != nil {
		if res != nil && res.Order != nil {
			status, message := errorResponse(err)
			c.JSON(status, gin.H{"error": message, "order": res.Order})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}
