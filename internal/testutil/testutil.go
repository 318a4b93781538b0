// Package testutil provides shared test helpers for transforms and HTTP
// handlers.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/banshee-data/frametransform/internal/frames"
)

// DefaultTolerance is the absolute tolerance used by AssertMatrixNear.
const DefaultTolerance = 1e-9

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// MatrixNear reports whether every element of a and b differs by at most tol.
func MatrixNear(a, b [16]float64, tol float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

// AssertMatrixNear fails the test when got and want differ by more than
// DefaultTolerance in any element.
func AssertMatrixNear(t testing.TB, got, want [16]float64) {
	t.Helper()
	if !MatrixNear(got, want, DefaultTolerance) {
		t.Errorf("matrix mismatch\n got: %v\nwant: %v", got, want)
	}
}

// Edge builds a translation edge from a to b attributed to source.
func Edge(a, b string, x, y, z float64, source string) frames.Transform {
	return frames.Transform{
		From:   frames.FrameID(a),
		To:     frames.FrameID(b),
		T:      frames.Translate(x, y, z),
		Source: source,
	}
}

// Stamped returns t observed at ts.
func Stamped(t frames.Transform, ts time.Time) frames.Transform {
	t.Timestamp = ts
	return t
}

// NewJSONRequest creates a test request whose body is v encoded as JSON.
func NewJSONRequest(t testing.TB, method, target string, v interface{}) *http.Request {
	t.Helper()
	var body io.Reader
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// DecodeJSON decodes the recorder body into a value of type T.
func DecodeJSON[T any](t testing.TB, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}
