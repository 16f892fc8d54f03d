package clipboard

import (
	"errors"
	"strings"
	"testing"
)

func TestOwnerString(t *testing.T) {
	cases := []struct {
		o    Owner
		want string
	}{
		{Owner{PID: 42, Process: `C:\Tools\clipmgr.exe`}, `C:\Tools\clipmgr.exe (pid 42)`},
		{Owner{PID: 42}, "pid 42"},
		{Owner{Window: 0x1a2b}, "window 0x1a2b"},
		{Owner{}, "unknown"},
	}
	for _, tc := range cases {
		if got := tc.o.String(); got != tc.want {
			t.Fatalf("got %q want %q", got, tc.want)
		}
	}
}

func TestContentionErrorUnwraps(t *testing.T) {
	inner := errors.New("access denied")
	err := error(&ContentionError{Owner: Owner{PID: 7}, Err: inner})
	if !errors.Is(err, inner) {
		t.Fatalf("expected inner error to unwrap")
	}
	if !strings.Contains(err.Error(), "pid 7") {
		t.Fatalf("owner missing from message: %s", err)
	}
	var ce *ContentionError
	if !errors.As(err, &ce) || ce.Owner.PID != 7 {
		t.Fatalf("errors.As failed")
	}
}
