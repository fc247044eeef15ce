package middleware

import (
	"crypto/subtle"
	"net/http"
)

// NewBasicAuthMiddleware はダッシュボード全体を保護するBasic認証ミドルウェアを返す。
// ユーザー名・パスワードのいずれかが空の場合は認証を行わず素通しする。
// 資格情報の比較はタイミング攻撃を避けるため定数時間で行う。
func NewBasicAuthMiddleware(username, password string) func(next http.Handler) http.Handler {
	enabled := username != "" && password != ""
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}

			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="ptwatch"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
