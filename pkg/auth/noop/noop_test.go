package noop

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/pysandbox/pkg/auth"
)

func TestAuthenticate(t *testing.T) {
	res := Authenticator{}.Authenticate(context.Background(), httptest.NewRequest("GET", "/mcp", nil))
	if res.Decision != auth.Yes || res.Identity.Subject != "anonymous" {
		t.Errorf("result = %+v", res)
	}
}
