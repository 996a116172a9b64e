package tests

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"

	echoapi "github.com/trezcool/shule/apps/api/echo"
	"github.com/trezcool/shule/core/user"
	"github.com/trezcool/shule/tests"
)

func Test_userApi_login(t *testing.T) {
	env := setup(t)

	testutil.CreateUser(t, env.usrRepo, "Hero", "hero", "hero@test.cd", "Pa$$w0rd!", user.RoleStudent, true)
	testutil.CreateUser(t, env.usrRepo, "N Dog", "ndog", "ndog@test.cd", "Pa$$w0rd!", user.RoleStudent, false)

	body := func(uname, pwd string) []byte {
		return marchallObj(t, echoapi.LoginRequest{Username: uname, Password: pwd})
	}
	tests := []httpTest{
		{
			name: "Missing fields", body: []byte(`{}`), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"username": "this field is required", "password": "this field is required"}),
		},
		{
			name: "Unknown user", body: body("nobody", "Pa$$w0rd!"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "Wrong password", body: body("hero", "password"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "Inactive user", body: body("ndog", "Pa$$w0rd!"), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/v1/users/login"
	}
	runHTTPTests(t, env, tests)

	for _, uname := range []string{"hero", "HERO@test.cd"} {
		t.Run("Logged in as "+uname, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/users/login", body(uname, "Pa$$w0rd!"))
			env.app.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
			}
			var resp echoapi.LoginResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("json.Unmarshal() failed! err %v", err)
			}

			var me user.User
			if code := env.do(t, http.MethodGet, "/v1/users/me", resp.Token, nil, &me); code != http.StatusOK {
				t.Fatalf("GET /v1/users/me code = %v; want %v", code, http.StatusOK)
			}
			if me.Username != "hero" {
				t.Errorf("GET /v1/users/me username = %q; want %q", me.Username, "hero")
			}
		})
	}
}

func Test_userApi_refreshToken(t *testing.T) {
	env := setup(t)

	naughty := testutil.CreateUser(t, env.usrRepo, "N Dog", "ndog", "ndog@test.cd", "", user.RoleStudent, false) // 😂
	student := testutil.CreateUser(t, env.usrRepo, "Hero", "hero", "hero@test.cd", "", user.RoleStudent, true)

	now := time.Now()
	unrefreshableClaims := &echoapi.Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    env.conf.AppName,
			Subject:   student.ID,
			ExpiresAt: now.Add(env.conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		OrigIssuedAt: now.Add(-2 * env.conf.Server.JWTRefreshExpirationDelta).Unix(), // older than threshold
		Role:         student.Role,
	}
	unrefreshableToken, err := echoapi.GenerateToken(env.conf, unrefreshableClaims)
	if err != nil {
		t.Fatalf("GenerateToken(): %v", err)
	}
	ghostToken := env.getToken(t, user.User{ID: "f47ac10b-58cc-4372-a567-0e02b2c3d479", Role: user.RoleStudent})

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Bad token", token: "not.a.token", wantCode: http.StatusUnauthorized},
		{name: "Unknown user", token: ghostToken, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "user not authenticated"})},
		{name: "Inactive user not allowed", token: env.getToken(t, naughty), wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"})},
		{name: "Refresh period expired", token: unrefreshableToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "refresh has expired"})},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/v1/users/token-refresh"
	}
	runHTTPTests(t, env, tests)

	t.Run("Token refreshed", func(t *testing.T) {
		// cannot guess new token.. just check that it's not empty
		var resp echoapi.LoginResponse
		code := env.do(t, http.MethodPost, "/v1/users/token-refresh", env.getToken(t, student), nil, &resp)
		if code != http.StatusOK {
			t.Errorf("failed! code = %v; wantCode %v", code, http.StatusOK)
		}
		if resp.Token == "" {
			t.Error("failed! empty token")
		}
	})
}
