package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-auth-secret"

// fakeClock — управляемые часы для тестов.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestService(t *testing.T, clock *fakeClock) *Service {
	t.Helper()
	svc, err := New(testSecret, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("New() вернул ошибку: %v", err)
	}
	return svc
}

func TestNew_MissingSecret(t *testing.T) {
	_, err := New("")
	if !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("New(\"\") = %v, ожидается ErrMissingSecret", err)
	}
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := newTestService(t, clock)

	for _, noteID := range []string{
		"6f1c2b9e-3a57-4e0c-9a61-0a5e3d7c1b22",
		"nota-1",
		"c",
	} {
		t.Run(noteID, func(t *testing.T) {
			tok, err := svc.Issue(noteID)
			if err != nil {
				t.Fatalf("Issue() вернул ошибку: %v", err)
			}
			claims, err := svc.Verify(tok)
			if err != nil {
				t.Fatalf("Verify() вернул ошибку: %v", err)
			}
			if claims.NoteID != noteID {
				t.Errorf("NoteID = %q, ожидается %q", claims.NoteID, noteID)
			}
		})
	}
}

func TestIssue_EmptyNoteID(t *testing.T) {
	svc := newTestService(t, &fakeClock{now: time.Now()})
	if _, err := svc.Issue(""); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Issue(\"\") = %v, ожидается ErrTokenInvalid", err)
	}
}

func TestVerify_ValidJustBeforeExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := newTestService(t, clock)

	tok, err := svc.Issue("nota-1")
	if err != nil {
		t.Fatalf("Issue() вернул ошибку: %v", err)
	}

	clock.now = clock.now.Add(DefaultValidity - time.Minute)
	if _, err := svc.Verify(tok); err != nil {
		t.Errorf("Verify() до истечения = %v, ожидается nil", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := newTestService(t, clock)

	tok, err := svc.Issue("nota-m")
	if err != nil {
		t.Fatalf("Issue() вернул ошибку: %v", err)
	}

	for _, elapsed := range []time.Duration{
		DefaultValidity + time.Second,
		31 * 24 * time.Hour,
		365 * 24 * time.Hour,
	} {
		clock.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(elapsed)
		_, err := svc.Verify(tok)
		if !errors.Is(err, ErrTokenExpired) {
			t.Errorf("Verify() через %v = %v, ожидается ErrTokenExpired", elapsed, err)
		}
	}
}

func TestVerify_Invalid(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := newTestService(t, clock)

	valid, err := svc.Issue("nota-1")
	if err != nil {
		t.Fatalf("Issue() вернул ошибку: %v", err)
	}

	other, err := New("outro-segredo", WithClock(clock.Now))
	if err != nil {
		t.Fatalf("New() вернул ошибку: %v", err)
	}
	foreign, err := other.Issue("nota-1")
	if err != nil {
		t.Fatalf("Issue() вернул ошибку: %v", err)
	}

	// Токен без noteId, подписанный правильным секретом
	noNote, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{"attest"},
		ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("подпись: %v", err)
	}

	// Токен с другим назначением
	wrongAud, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		NoteID: "nota-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{"session"},
			ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("подпись: %v", err)
	}

	// Токен без срока действия
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		NoteID:           "nota-1",
		RegisteredClaims: jwt.RegisteredClaims{Audience: jwt.ClaimStrings{"attest"}},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("подпись: %v", err)
	}

	// Алгоритм none
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		NoteID: "nota-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{"attest"},
			ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("подпись: %v", err)
	}

	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	tests := []struct {
		name  string
		token string
	}{
		{"пустая строка", ""},
		{"мусор", "not-a-token"},
		{"чужой секрет", foreign},
		{"изменённый payload", tampered},
		{"нет noteId", noNote},
		{"другой audience", wrongAud},
		{"нет exp", noExp},
		{"alg none", none},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Verify(tt.token)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("Verify() = %v, ожидается ErrTokenInvalid", err)
			}
			if errors.Is(err, ErrTokenExpired) {
				t.Error("невалидный токен не должен считаться просроченным")
			}
		})
	}
}

func TestWithValidity(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc, err := New(testSecret, WithClock(clock.Now), WithValidity(time.Hour))
	if err != nil {
		t.Fatalf("New() вернул ошибку: %v", err)
	}
	tok, err := svc.Issue("nota-1")
	if err != nil {
		t.Fatalf("Issue() вернул ошибку: %v", err)
	}
	clock.now = clock.now.Add(2 * time.Hour)
	if _, err := svc.Verify(tok); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Verify() = %v, ожидается ErrTokenExpired", err)
	}
}

func TestAttestURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://notas.fadex.org.br", "https://notas.fadex.org.br/attest/abc.def.ghi"},
		{"https://notas.fadex.org.br/", "https://notas.fadex.org.br/attest/abc.def.ghi"},
	}
	for _, tt := range tests {
		if got := AttestURL(tt.base, "abc.def.ghi"); got != tt.want {
			t.Errorf("AttestURL(%q) = %q, ожидается %q", tt.base, got, tt.want)
		}
	}
}
