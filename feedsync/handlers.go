package feedsync

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fintrack-labs/forecast_backend/config"
	"github.com/fintrack-labs/forecast_backend/models"
	"github.com/fintrack-labs/forecast_backend/utils"
	"github.com/gin-gonic/gin"
)

const statusCacheTTL = 10 * time.Second

type statusResponse struct {
	Run    *models.SyncRun     `json:"run"`
	Errors []*models.SyncError `json:"errors"`
}

// TriggerSyncHandler runs a feed sync for the account synchronously and
// returns the finished run.
func TriggerSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
			return
		}

		run, err := SyncAccount(c.Request.Context(), accountId)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
				return
			}
			if run != nil {
				// partial progress is already committed
				_ = config.RemoveRedisKey(statusCacheKey(accountId))
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "run": run})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		_ = config.RemoveRedisKey(statusCacheKey(accountId))
		c.JSON(http.StatusOK, gin.H{"run": run})
	}
}

// SyncStatusHandler returns the latest run with its error rows, briefly
// cached in redis.
func SyncStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
			return
		}

		ctx := c.Request.Context()
		userId, _ := utils.GetUserIdFromContext(ctx)
		cacheKey := statusCacheKey(accountId)

		var cached statusResponse
		if found, _ := config.GetRedisObject(cacheKey, &cached); found && cached.Run != nil && cached.Run.UserId == userId {
			c.JSON(http.StatusOK, cached)
			return
		}

		run, syncErrors, err := models.GetLatestSyncRun(ctx, accountId)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no sync run found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		resp := statusResponse{Run: run, Errors: syncErrors}
		_ = config.SetRedisObject(cacheKey, resp, statusCacheTTL)
		c.JSON(http.StatusOK, resp)
	}
}

func statusCacheKey(accountId int) string {
	return fmt.Sprintf("feedsync:status:%d", accountId)
}
