package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Aidin1998/assetex/api"
	"github.com/Aidin1998/assetex/internal/auth"
	"github.com/Aidin1998/assetex/internal/config"
	"github.com/Aidin1998/assetex/internal/events"
	"github.com/Aidin1998/assetex/internal/funds"
	"github.com/Aidin1998/assetex/internal/marketplace"
	"github.com/Aidin1998/assetex/internal/registry"
	"github.com/Aidin1998/assetex/internal/stats"
	"github.com/Aidin1998/assetex/pkg/models"
)

type testServer struct {
	router   *gin.Engine
	tokens   *auth.Service
	registry *registry.MemoryRegistry
	funds    funds.FundService
}

// helper to set up a server over a fresh in-memory database
func setupServer(t *testing.T) *testServer {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection keeps every session on the same in-memory database
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.Listing{},
		&models.OpenListing{},
		&models.Sale{},
		&models.MarketStats{},
		&models.ItemSaleCount{},
		&models.FundAccount{},
		&models.FundTransaction{},
		&models.MarketEvent{},
		&models.MarketConfig{},
	)
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.MarketStats{ID: 1}).Error)

	reg := registry.NewMemoryRegistry()

	statsSvc, err := stats.NewService(zap.NewNop(), db)
	require.NoError(t, err)
	fundsSvc, err := funds.NewService(zap.NewNop(), db)
	require.NoError(t, err)
	recorder, err := events.NewService(zap.NewNop(), db, "market.events", nil, nil)
	require.NoError(t, err)

	marketCfg := config.MarketConfig{
		AdminPrincipal:    "admin",
		TreasuryPrincipal: "treasury",
		DefaultFeePercent: 2,
		RegistryBackend:   "memory",
	}
	market, err := marketplace.NewService(zap.NewNop(), db, marketCfg, reg, statsSvc, fundsSvc, recorder)
	require.NoError(t, err)

	tokens, err := auth.NewService(zap.NewNop(), config.JWTConfig{Secret: "test-secret"})
	require.NoError(t, err)

	srv := api.NewServer(zap.NewNop(), config.ServerConfig{}, market, fundsSvc, recorder, nil, tokens)

	return &testServer{
		router:   srv.Router(),
		tokens:   tokens,
		registry: reg,
		funds:    fundsSvc,
	}
}

func (ts *testServer) request(t *testing.T, method, path, principal string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if principal != "" {
		token, err := ts.tokens.GenerateToken(principal)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthCheck(t *testing.T) {
	ts := setupServer(t)

	w := ts.request(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody(t, w)
	assert.Equal(t, "ok", resp["status"])
}

func TestCreateListing_Unauthorized(t *testing.T) {
	ts := setupServer(t)

	w := ts.request(t, http.MethodPost, "/api/v1/market/listings", "",
		gin.H{"item_id": 7, "price": 1000})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateListing_BadToken(t *testing.T) {
	ts := setupServer(t)

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/market/listings",
		bytes.NewBufferString(`{"item_id":7,"price":1000}`))
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListingFlow(t *testing.T) {
	ts := setupServer(t)
	ts.registry.Mint(7, "alice")

	w := ts.request(t, http.MethodPost, "/api/v1/market/listings", "alice",
		gin.H{"item_id": 7, "price": 1000})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.request(t, http.MethodGet, "/api/v1/market/listings/7", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	record := resp["listing"].(map[string]interface{})
	assert.Equal(t, float64(1000), record["price"])
	assert.Equal(t, "alice", record["seller"])
	assert.Equal(t, true, record["active"])

	w = ts.request(t, http.MethodGet, "/api/v1/market/items/7/listed", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["listed"])
}

func TestCreateListing_NotOwner(t *testing.T) {
	ts := setupServer(t)
	ts.registry.Mint(7, "alice")

	w := ts.request(t, http.MethodPost, "/api/v1/market/listings", "bob",
		gin.H{"item_id": 7, "price": 1000})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreateListing_DuplicateConflict(t *testing.T) {
	ts := setupServer(t)
	ts.registry.Mint(7, "alice")

	w := ts.request(t, http.MethodPost, "/api/v1/market/listings", "alice",
		gin.H{"item_id": 7, "price": 1000})
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.request(t, http.MethodPost, "/api/v1/market/listings", "alice",
		gin.H{"item_id": 7, "price": 2000})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetListing_NotFound(t *testing.T) {
	ts := setupServer(t)

	w := ts.request(t, http.MethodGet, "/api/v1/market/listings/42", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBuyFlow(t *testing.T) {
	ts := setupServer(t)
	ts.registry.Mint(7, "alice")

	w := ts.request(t, http.MethodPost, "/api/v1/market/listings", "alice",
		gin.H{"item_id": 7, "price": 1000})
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.request(t, http.MethodPost, "/api/v1/funds/deposit", "bob",
		gin.H{"amount": 1500})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.request(t, http.MethodPost, "/api/v1/market/listings/7/buy", "bob",
		gin.H{"payment": 1200})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody(t, w)
	sale := resp["sale"].(map[string]interface{})
	assert.Equal(t, float64(1000), sale["price"])
	assert.Equal(t, float64(20), sale["fee"])
	assert.Equal(t, float64(200), sale["refund"])

	// Ownership moved to the buyer
	w = ts.request(t, http.MethodGet, "/api/v1/market/items/7/ownership?principal=bob", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["owns"])

	// Aggregate counters reflect the sale
	w = ts.request(t, http.MethodGet, "/api/v1/market/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	statsResp := decodeBody(t, w)
	assert.Equal(t, float64(0), statsResp["total_active_listings"])
	assert.Equal(t, float64(1), statsResp["total_sales"])

	w = ts.request(t, http.MethodGet, "/api/v1/market/items/7/sale-count", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["sale_count"])
}

func TestBuy_InsufficientFunds(t *testing.T) {
	ts := setupServer(t)
	ts.registry.Mint(7, "alice")

	w := ts.request(t, http.MethodPost, "/api/v1/market/listings", "alice",
		gin.H{"item_id": 7, "price": 1000})
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.request(t, http.MethodPost, "/api/v1/market/listings/7/buy", "bob",
		gin.H{"payment": 1000})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestBuy_Underpayment(t *testing.T) {
	ts := setupServer(t)
	ts.registry.Mint(7, "alice")

	w := ts.request(t, http.MethodPost, "/api/v1/market/listings", "alice",
		gin.H{"item_id": 7, "price": 1000})
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.request(t, http.MethodPost, "/api/v1/funds/deposit", "bob",
		gin.H{"amount": 5000})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.request(t, http.MethodPost, "/api/v1/market/listings/7/buy", "bob",
		gin.H{"payment": 500})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChangePriceAndUnlist(t *testing.T) {
	ts := setupServer(t)
	ts.registry.Mint(7, "alice")

	w := ts.request(t, http.MethodPost, "/api/v1/market/listings", "alice",
		gin.H{"item_id": 7, "price": 1000})
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.request(t, http.MethodPut, "/api/v1/market/listings/7/price", "alice",
		gin.H{"new_price": 1500})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	record := decodeBody(t, w)["listing"].(map[string]interface{})
	assert.Equal(t, float64(1500), record["price"])

	// Someone else cannot touch the listing
	w = ts.request(t, http.MethodPut, "/api/v1/market/listings/7/price", "mallory",
		gin.H{"new_price": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.request(t, http.MethodDelete, "/api/v1/market/listings/7", "mallory", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.request(t, http.MethodDelete, "/api/v1/market/listings/7", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.request(t, http.MethodGet, "/api/v1/market/items/7/listed", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["listed"])
}

func TestFundEndpoints(t *testing.T) {
	ts := setupServer(t)

	w := ts.request(t, http.MethodPost, "/api/v1/funds/deposit", "alice",
		gin.H{"amount": 500})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.request(t, http.MethodPost, "/api/v1/funds/withdraw", "alice",
		gin.H{"amount": 200})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.request(t, http.MethodGet, "/api/v1/funds/balance", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "300", decodeBody(t, w)["balance"])

	w = ts.request(t, http.MethodGet, "/api/v1/funds/transactions", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, float64(2), resp["total"])

	// Overdraw is refused
	w = ts.request(t, http.MethodPost, "/api/v1/funds/withdraw", "alice",
		gin.H{"amount": 10000})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestAdminEndpoints(t *testing.T) {
	ts := setupServer(t)

	w := ts.request(t, http.MethodPut, "/api/v1/admin/market/fee", "admin",
		gin.H{"percent": 10})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.request(t, http.MethodGet, "/api/v1/market/fee", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(10), decodeBody(t, w)["fee_percent"])

	// Zero percent is a valid fee
	w = ts.request(t, http.MethodPut, "/api/v1/admin/market/fee", "admin",
		gin.H{"percent": 0})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.request(t, http.MethodPut, "/api/v1/admin/market/fee", "mallory",
		gin.H{"percent": 10})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.request(t, http.MethodPut, "/api/v1/admin/market/fee", "admin",
		gin.H{"percent": 101})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// The in-memory registry cannot be rebound
	w = ts.request(t, http.MethodPut, "/api/v1/admin/market/registry", "admin",
		gin.H{"address": "0x1111111111111111111111111111111111111111"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRecentEventsEndpoint(t *testing.T) {
	ts := setupServer(t)
	ts.registry.Mint(7, "alice")

	w := ts.request(t, http.MethodPost, "/api/v1/market/listings", "alice",
		gin.H{"item_id": 7, "price": 1000})
	require.Equal(t, http.StatusCreated, w.Code)
	w = ts.request(t, http.MethodDelete, "/api/v1/market/listings/7", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.request(t, http.MethodGet, "/api/v1/market/events", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	recent := resp["events"].([]interface{})
	require.Len(t, recent, 2)

	// Newest first
	first := recent[0].(map[string]interface{})
	assert.Equal(t, "unlisted", first["type"])
}

func TestSellerListingsEndpoint(t *testing.T) {
	ts := setupServer(t)
	for i := uint64(1); i <= 3; i++ {
		ts.registry.Mint(i, "alice")
		w := ts.request(t, http.MethodPost, "/api/v1/market/listings", "alice",
			gin.H{"item_id": i, "price": 100 * i})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := ts.request(t, http.MethodGet, "/api/v1/market/listings?seller=alice", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	listings := resp["listings"].([]interface{})
	assert.Len(t, listings, 3)

	w = ts.request(t, http.MethodGet, "/api/v1/market/listings", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvalidItemIDParam(t *testing.T) {
	ts := setupServer(t)

	w := ts.request(t, http.MethodGet, "/api/v1/market/listings/banana", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSalesHistoryPagination(t *testing.T) {
	ts := setupServer(t)
	w := ts.request(t, http.MethodPost, "/api/v1/funds/deposit", "bob",
		gin.H{"amount": 10000})
	require.Equal(t, http.StatusOK, w.Code)

	for i := uint64(1); i <= 3; i++ {
		ts.registry.Mint(i, "alice")
		w := ts.request(t, http.MethodPost, "/api/v1/market/listings", "alice",
			gin.H{"item_id": i, "price": 100})
		require.Equal(t, http.StatusCreated, w.Code)
		w = ts.request(t, http.MethodPost, fmt.Sprintf("/api/v1/market/listings/%d/buy", i), "bob",
			gin.H{"payment": 100})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w = ts.request(t, http.MethodGet, "/api/v1/market/sales?limit=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, float64(3), resp["total"])
	assert.Len(t, resp["sales"].([]interface{}), 2)
}
