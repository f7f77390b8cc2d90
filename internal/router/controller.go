package router

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/swiftdevstuff/up-ynab-sync/internal/amount"
	"github.com/swiftdevstuff/up-ynab-sync/internal/config"
	"github.com/swiftdevstuff/up-ynab-sync/internal/httperror"
	"github.com/swiftdevstuff/up-ynab-sync/internal/ledger"
	"github.com/swiftdevstuff/up-ynab-sync/internal/sync"
)

// Service is the engine surface the API exposes. Implemented by *sync.Engine.
type Service interface {
	Health() error
	Status(profileName string) (*sync.SyncStatus, error)
	ListFailed(profileName string, limit int) ([]ledger.SyncedTransaction, error)
	DeleteFailed(profileName, transactionID string) error
	CleanupFailed(profileName string) (int64, error)
	RepairMismarkedSynced(profileName string) (int64, error)
}

// Controller binds the API handlers to the sync service.
type Controller struct {
	Service Service
}

// RegisterStatusRoutes registers the routes for the status endpoint.
func (co Controller) RegisterStatusRoutes(r *gin.RouterGroup) {
	r.OPTIONS("", optionsGet)
	r.GET("", co.GetStatus)
}

// RegisterFailedRoutes registers the routes for failed transactions.
func (co Controller) RegisterFailedRoutes(r *gin.RouterGroup) {
	r.OPTIONS("", optionsGet)
	r.GET("", co.GetFailed)
	r.DELETE("/:transactionId", co.DeleteFailed)
}

// RegisterMaintenanceRoutes registers the maintenance operations.
func (co Controller) RegisterMaintenanceRoutes(r *gin.RouterGroup) {
	r.POST("/cleanup", co.PostCleanup)
	r.POST("/repair", co.PostRepair)
}

// GetHealthz returns 204 when the ledger database is reachable.
func (co Controller) GetHealthz(c *gin.Context) {
	if err := co.Service.Health(); err != nil {
		c.JSON(http.StatusInternalServerError, httperror.New(err))
		return
	}

	c.Status(http.StatusNoContent)
}

type StatusResponse struct {
	Data *sync.SyncStatus `json:"data"`
}

// GetStatus returns the health snapshot for the profile given by the
// "profile" query parameter, defaulting to the active one.
func (co Controller) GetStatus(c *gin.Context) {
	status, err := co.Service.Status(c.Query("profile"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, StatusResponse{Data: status})
}

// FailedTransaction is the API representation of one failed ledger record.
type FailedTransaction struct {
	TransactionID string    `json:"transactionId"`
	AccountID     string    `json:"accountId"`
	AccountName   string    `json:"accountName"`
	Amount        int64     `json:"amount"`
	AmountDisplay string    `json:"amountDisplay" example:"-25.50"`
	Date          time.Time `json:"date"`
	Description   string    `json:"description"`
	Error         string    `json:"error"`
	Critical      bool      `json:"critical"`
}

type FailedResponse struct {
	Data []FailedTransaction `json:"data"`
}

// GetFailed lists the profile's failed transactions, oldest first. The
// "limit" query parameter caps the result.
func (co Controller) GetFailed(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, httperror.Error{Message: "limit must be an integer"})
			return
		}
		limit = parsed
	}

	records, err := co.Service.ListFailed(c.Query("profile"), limit)
	if err != nil {
		handleError(c, err)
		return
	}

	failed := make([]FailedTransaction, 0, len(records))
	for _, record := range records {
		failed = append(failed, FailedTransaction{
			TransactionID: record.TransactionID,
			AccountID:     record.AccountID,
			AccountName:   record.AccountName,
			Amount:        record.Amount,
			AmountDisplay: amount.Display(record.Amount),
			Date:          record.Date,
			Description:   record.Description,
			Error:         record.Error,
			Critical:      record.Critical,
		})
	}

	c.JSON(http.StatusOK, FailedResponse{Data: failed})
}

// DeleteFailed removes one failed record so the next run re-attempts the
// transaction.
func (co Controller) DeleteFailed(c *gin.Context) {
	err := co.Service.DeleteFailed(c.Query("profile"), c.Param("transactionId"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type MaintenanceResponse struct {
	Data MaintenanceResult `json:"data"`
}

type MaintenanceResult struct {
	Affected int64 `json:"affected"`
}

// PostCleanup removes all failed records for the profile.
func (co Controller) PostCleanup(c *gin.Context) {
	affected, err := co.Service.CleanupFailed(c.Query("profile"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, MaintenanceResponse{Data: MaintenanceResult{Affected: affected}})
}

// PostRepair demotes records marked synced without a target transaction id.
func (co Controller) PostRepair(c *gin.Context) {
	affected, err := co.Service.RepairMismarkedSynced(c.Query("profile"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, MaintenanceResponse{Data: MaintenanceResult{Affected: affected}})
}

func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, config.ErrNoActiveProfile), errors.Is(err, config.ErrProfileNotFound), errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, httperror.New(err))
	case errors.Is(err, ledger.ErrNotFailed):
		c.JSON(http.StatusBadRequest, httperror.New(err))
	default:
		c.JSON(http.StatusInternalServerError, httperror.New(err))
	}
}
