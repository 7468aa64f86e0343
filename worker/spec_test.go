package worker

import (
	"errors"
	"testing"
	"time"
)

func TestSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{"zero value", Spec{}, false},
		{"with limits", Spec{Resources: Resources{MemoryBytes: 256 << 20, CPUMillis: 500}}, false},
		{"negative memory", Spec{Resources: Resources{MemoryBytes: -1}}, true},
		{"negative cpu", Spec{Resources: Resources{CPUMillis: -1}}, true},
		{"negative pids", Spec{Resources: Resources{PidsMax: -1}}, true},
		{"negative disk", Spec{Resources: Resources{DiskBytes: -1}}, true},
		{"negative grace", Spec{GracePeriod: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSpec_PrivilegedRejected(t *testing.T) {
	err := Spec{Privileged: true}.Validate()
	if !errors.Is(err, ErrSecurityViolation) {
		t.Errorf("Validate() error = %v, want ErrSecurityViolation", err)
	}
}

func TestSpec_Grace(t *testing.T) {
	if got := (Spec{}).Grace(); got != DefaultGracePeriod {
		t.Errorf("Grace() = %v for zero spec, want %v", got, DefaultGracePeriod)
	}
	if got := (Spec{GracePeriod: 3 * time.Second}).Grace(); got != 3*time.Second {
		t.Errorf("Grace() = %v, want 3s", got)
	}
}

func TestFaultError(t *testing.T) {
	underlying := errors.New("daemon unreachable")
	err := Fault("provision", underlying)

	if !errors.Is(err, ErrFault) {
		t.Error("Fault() does not match ErrFault")
	}
	if !errors.Is(err, underlying) {
		t.Error("Fault() does not unwrap to the underlying error")
	}

	var fe *FaultError
	if !errors.As(err, &fe) {
		t.Fatal("Fault() is not a *FaultError")
	}
	if fe.Op != "provision" {
		t.Errorf("Op = %q, want provision", fe.Op)
	}
}
