package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/threatflux/pluginsentinel/internal/auth"
)

// MockAuthService is a mock implementation of the auth.Service interface
type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) GenerateToken(subject string, roles []string) (string, time.Time, error) {
	args := m.Called(subject, roles)
	return args.String(0), args.Get(1).(time.Time), args.Error(2)
}

func (m *MockAuthService) ValidateToken(token string) (*auth.TokenDetails, error) {
	args := m.Called(token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.TokenDetails), args.Error(1)
}

// Setup test environment for auth middleware tests
func setupAuthMiddlewareTest() (*gin.Engine, *MockAuthService) {
	gin.SetMode(gin.TestMode)
	mockAuthService := new(MockAuthService)
	router := gin.New()
	return router, mockAuthService
}

func TestRequireAuthentication_Success(t *testing.T) {
	router, mockAuthService := setupAuthMiddlewareTest()
	authMiddleware := NewAuthMiddleware(mockAuthService)

	tokenDetails := &auth.TokenDetails{
		Subject: "operator",
		Roles:   []string{"user"},
	}
	mockAuthService.On("ValidateToken", "valid-token").Return(tokenDetails, nil)

	router.GET("/protected", authMiddleware.RequireAuthentication(), func(c *gin.Context) {
		subject, exists := c.Get("subject")
		assert.True(t, exists)
		assert.Equal(t, "operator", subject)

		roles, exists := c.Get("roles")
		assert.True(t, exists)
		assert.Equal(t, []string{"user"}, roles)

		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	mockAuthService.AssertExpectations(t)
}

func TestRequireAuthentication_MissingHeader(t *testing.T) {
	router, mockAuthService := setupAuthMiddlewareTest()
	authMiddleware := NewAuthMiddleware(mockAuthService)

	router.GET("/protected", authMiddleware.RequireAuthentication(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	mockAuthService.AssertExpectations(t)
}

func TestRequireAuthentication_InvalidHeader(t *testing.T) {
	router, mockAuthService := setupAuthMiddlewareTest()
	authMiddleware := NewAuthMiddleware(mockAuthService)

	router.GET("/protected", authMiddleware.RequireAuthentication(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	testCases := []struct {
		name   string
		header string
	}{
		{"missing bearer", "valid-token"},
		{"wrong format", "NotBearer valid-token"},
		{"too many parts", "Bearer token extra"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/protected", nil)
			req.Header.Set("Authorization", tc.header)
			resp := httptest.NewRecorder()

			router.ServeHTTP(resp, req)

			assert.Equal(t, http.StatusUnauthorized, resp.Code)
		})
	}

	mockAuthService.AssertExpectations(t)
}

func TestRequireAuthentication_InvalidToken(t *testing.T) {
	router, mockAuthService := setupAuthMiddlewareTest()
	authMiddleware := NewAuthMiddleware(mockAuthService)

	mockAuthService.On("ValidateToken", "invalid-token").
		Return(nil, errors.New("token validation error"))

	router.GET("/protected", authMiddleware.RequireAuthentication(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer invalid-token")
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	mockAuthService.AssertExpectations(t)
}

func TestRequireRole_Success(t *testing.T) {
	router, mockAuthService := setupAuthMiddlewareTest()
	authMiddleware := NewAuthMiddleware(mockAuthService)

	tokenDetails := &auth.TokenDetails{
		Subject: "operator",
		Roles:   []string{"admin", "user"},
	}
	mockAuthService.On("ValidateToken", "valid-token").Return(tokenDetails, nil)

	router.GET("/admin-only",
		authMiddleware.RequireAuthentication(),
		authMiddleware.RequireRole("admin"),
		func(c *gin.Context) {
			c.Status(http.StatusOK)
		},
	)

	router.GET("/multi-role",
		authMiddleware.RequireAuthentication(),
		authMiddleware.RequireRole("auditor", "admin"),
		func(c *gin.Context) {
			c.Status(http.StatusOK)
		},
	)

	req := httptest.NewRequest("GET", "/admin-only", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)

	req = httptest.NewRequest("GET", "/multi-role", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	resp = httptest.NewRecorder()

	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)

	mockAuthService.AssertExpectations(t)
}

func TestRequireRole_Forbidden(t *testing.T) {
	router, mockAuthService := setupAuthMiddlewareTest()
	authMiddleware := NewAuthMiddleware(mockAuthService)

	tokenDetails := &auth.TokenDetails{
		Subject: "viewer",
		Roles:   []string{"user"},
	}
	mockAuthService.On("ValidateToken", "user-token").Return(tokenDetails, nil)

	router.GET("/admin-only",
		authMiddleware.RequireAuthentication(),
		authMiddleware.RequireRole("admin"),
		func(c *gin.Context) {
			c.Status(http.StatusOK)
		},
	)

	req := httptest.NewRequest("GET", "/admin-only", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusForbidden, resp.Code)
	mockAuthService.AssertExpectations(t)
}

func TestRequireAdmin_Success(t *testing.T) {
	router, mockAuthService := setupAuthMiddlewareTest()
	authMiddleware := NewAuthMiddleware(mockAuthService)

	tokenDetails := &auth.TokenDetails{
		Subject: "root",
		Roles:   []string{"admin"},
	}
	mockAuthService.On("ValidateToken", "admin-token").Return(tokenDetails, nil)

	router.GET("/admin-only",
		authMiddleware.RequireAuthentication(),
		authMiddleware.RequireAdmin(),
		func(c *gin.Context) {
			c.Status(http.StatusOK)
		},
	)

	req := httptest.NewRequest("GET", "/admin-only", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	mockAuthService.AssertExpectations(t)
}

func TestGetSubject(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set("subject", "operator")

	subject, err := GetSubject(c)
	require.NoError(t, err)
	assert.Equal(t, "operator", subject)

	w = httptest.NewRecorder()
	emptyCtx, _ := gin.CreateTestContext(w)
	subject, err = GetSubject(emptyCtx)
	require.Error(t, err)
	assert.Empty(t, subject)

	w = httptest.NewRecorder()
	wrongTypeCtx, _ := gin.CreateTestContext(w)
	wrongTypeCtx.Set("subject", 42)
	subject, err = GetSubject(wrongTypeCtx)
	require.Error(t, err)
	assert.Empty(t, subject)
}

func TestGetRoles(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set("roles", []string{"admin", "user"})

	roles, err := GetRoles(c)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "user"}, roles)

	w = httptest.NewRecorder()
	emptyCtx, _ := gin.CreateTestContext(w)
	roles, err = GetRoles(emptyCtx)
	require.Error(t, err)
	assert.Nil(t, roles)

	w = httptest.NewRecorder()
	wrongTypeCtx, _ := gin.CreateTestContext(w)
	wrongTypeCtx.Set("roles", "not-a-slice")
	roles, err = GetRoles(wrongTypeCtx)
	require.Error(t, err)
	assert.Nil(t, roles)
}

func TestHasRole(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set("roles", []string{"admin", "user"})

	hasAdmin, err := HasRole(c, "admin")
	require.NoError(t, err)
	assert.True(t, hasAdmin)

	hasAuditor, err := HasRole(c, "auditor")
	require.NoError(t, err)
	assert.False(t, hasAuditor)

	w = httptest.NewRecorder()
	emptyCtx, _ := gin.CreateTestContext(w)
	hasRole, err := HasRole(emptyCtx, "admin")
	require.Error(t, err)
	assert.False(t, hasRole)
}

func TestIsAdmin(t *testing.T) {
	wAdmin := httptest.NewRecorder()
	adminCtx, _ := gin.CreateTestContext(wAdmin)
	adminCtx.Set("roles", []string{"admin", "user"})

	isAdmin, err := IsAdmin(adminCtx)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	wUser := httptest.NewRecorder()
	userCtx, _ := gin.CreateTestContext(wUser)
	userCtx.Set("roles", []string{"user"})

	isAdmin, err = IsAdmin(userCtx)
	require.NoError(t, err)
	assert.False(t, isAdmin)

	wEmpty := httptest.NewRecorder()
	emptyCtx, _ := gin.CreateTestContext(wEmpty)
	isAdmin, err = IsAdmin(emptyCtx)
	require.Error(t, err)
	assert.False(t, isAdmin)
}
