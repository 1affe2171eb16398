package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/platformd/internal/authcache"
	"github.com/smallbiznis/platformd/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type authLookupMock struct {
	mock.Mock
}

func (m *authLookupMock) Lookup(ctx context.Context, plainKey string) (authcache.AuthenticatedUser, bool, error) {
	args := m.Called(ctx, plainKey)
	user, _ := args.Get(0).(authcache.AuthenticatedUser)
	return user, args.Bool(1), args.Error(2)
}

func (m *authLookupMock) Store(ctx context.Context, plainKey, keyID string, user authcache.AuthenticatedUser) error {
	args := m.Called(ctx, plainKey, keyID, user)
	return args.Error(0)
}

type userLookupMock struct {
	mock.Mock
}

func (m *userLookupMock) FindUserByAPIKeyHash(ctx context.Context, hash string) (query.APIKeyLookupRow, bool, error) {
	args := m.Called(ctx, hash)
	row, _ := args.Get(0).(query.APIKeyLookupRow)
	return row, args.Bool(1), args.Error(2)
}

func newTestGateway(auth *authLookupMock, users *userLookupMock) *Gateway {
	return New(auth, users, nil, zap.NewNop())
}

func TestHandlerRejectsMissingAPIKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := &authLookupMock{}
	g := newTestGateway(auth, &userLookupMock{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/ws", nil)

	g.Handler()(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	auth.AssertNotCalled(t, "Lookup")
}

func TestHandlerRejectsUnknownAPIKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := &authLookupMock{}
	auth.On("Lookup", mock.Anything, "bad-key").Return(authcache.AuthenticatedUser{}, false, nil)
	users := &userLookupMock{}
	users.On("FindUserByAPIKeyHash", mock.Anything, mock.Anything).Return(query.APIKeyLookupRow{}, false, nil)
	g := newTestGateway(auth, users)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer bad-key")
	c.Request = req

	g.Handler()(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	auth.AssertExpectations(t)
	users.AssertExpectations(t)
}

func TestApiKeyFromRequestPrefersHeaderOverQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	req := httptest.NewRequest(http.MethodGet, "/ws?api_key=from-query", nil)
	req.Header.Set("Authorization", "Bearer from-header")
	c.Request = req

	assert.Equal(t, "from-header", apiKeyFromRequest(c))
}

func TestApiKeyFromRequestFallsBackToQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/ws?api_key=from-query", nil)

	assert.Equal(t, "from-query", apiKeyFromRequest(c))
}
