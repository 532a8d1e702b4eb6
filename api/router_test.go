package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"marketflow/auth"
	"marketflow/catalog"
	"marketflow/dispute"
	"marketflow/escrow"
	"marketflow/order"
	"marketflow/payment"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHealthz(t *testing.T) {
	router := NewRouter(Services{Auth: auth.NewService(&fakeAuthRepo{}, "secret")})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAuthenticate_RejectsBadTokens(t *testing.T) {
	router := NewRouter(Services{Auth: auth.NewService(&fakeAuthRepo{}, "secret")})

	cases := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"malformed", "Token abc"},
		{"garbage", "Bearer not-a-jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			router.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
		})
	}
}

func TestRequireRoles_BlocksWrongRole(t *testing.T) {
	authSvc := auth.NewService(&fakeAuthRepo{}, "secret")
	router := NewRouter(Services{Auth: authSvc})

	// A supplier may not create orders.
	token := loginAs(t, authSvc, "supplier@example.com", auth.RoleSupplier)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{"items":[]}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{order.ErrNotFound, http.StatusNotFound},
		{escrow.ErrNotFound, http.StatusNotFound},
		{order.ErrForbidden, http.StatusForbidden},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{auth.ErrDuplicateEmail, http.StatusConflict},
		{catalog.ErrInsufficientStock, http.StatusBadRequest},
		{escrow.ErrAlreadyProcessed, http.StatusBadRequest},
		{payment.ErrInvalidSignature, http.StatusBadRequest},
		{payment.ErrGateway, http.StatusBadGateway},
		{dispute.ErrInvalidStatus, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v): expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

func loginAs(t *testing.T, svc *auth.Service, email string, role auth.Role) string {
	t.Helper()
	repo := &fakeAuthRepo{}
	reg := auth.NewService(repo, "secret")
	if _, err := reg.Register(context.Background(), auth.RegisterRequest{
		Email:    email,
		Password: "password123",
		FullName: "Test User",
		Role:     role,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	result, err := reg.Login(context.Background(), auth.LoginRequest{Email: email, Password: "password123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return result.Token
}

type fakeAuthRepo struct {
	users map[string]auth.User
}

func (f *fakeAuthRepo) CreateUser(ctx context.Context, params auth.CreateUserParams) (auth.User, error) {
	if f.users == nil {
		f.users = map[string]auth.User{}
	}
	u := auth.User{
		ID:           "user-" + params.Email,
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		City:         params.City,
		State:        params.State,
	}
	f.users[params.Email] = u
	return u, nil
}

func (f *fakeAuthRepo) GetUserByEmail(ctx context.Context, email string) (auth.User, error) {
	u, ok := f.users[email]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeAuthRepo) GetUserByID(ctx context.Context, userID string) (auth.User, error) {
	for _, u := range f.users {
		if u.ID == userID {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrUserNotFound
}

func (f *fakeAuthRepo) GetLocation(ctx context.Context, userID string) (auth.Location, error) {
	u, err := f.GetUserByID(ctx, userID)
	if err != nil {
		return auth.Location{}, err
	}
	return auth.Location{City: u.City, State: u.State}, nil
}
