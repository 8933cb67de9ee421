package handlers

import (
	"net/http"
	"strconv"

	"market-settler/internal/models"
	"market-settler/internal/store"
	"market-settler/internal/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// MarketHandler serves the operator status API
type MarketHandler struct {
	db    *gorm.DB
	store *store.Store
}

func NewMarketHandler(db *gorm.DB, st *store.Store) *MarketHandler {
	return &MarketHandler{db: db, store: st}
}

// GetMarkets returns tracked markets with optional status filtering
func (h *MarketHandler) GetMarkets(c *gin.Context) {
	status := c.Query("status")
	limit := c.DefaultQuery("limit", "50")
	offset := c.DefaultQuery("offset", "0")

	limitInt, _ := strconv.Atoi(limit)
	offsetInt, _ := strconv.Atoi(offset)

	var markets []models.Market
	query := h.db.Order("created_at DESC")

	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Limit(limitInt).Offset(offsetInt).Find(&markets).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch markets"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    markets,
		"count":   len(markets),
	})
}

// GetMarketByID returns a single tracked market
func (h *MarketHandler) GetMarketByID(c *gin.Context) {
	conditionID, err := utils.NormalizeConditionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var market models.Market
	if err := h.db.Where("condition_id = ?", conditionID).First(&market).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Market not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch market"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    market,
	})
}

// ResetMarket clears the processed flag and retry counter for a market with
// failed-attempt history so the scheduler picks it up again
func (h *MarketHandler) ResetMarket(c *gin.Context) {
	conditionID, err := utils.NormalizeConditionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.ResetRetry(c.Request.Context(), conditionID); err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Market not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Market reset for settlement retry",
	})
}
