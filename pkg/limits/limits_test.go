package limits

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"path/filepath"
	"testing"

	"github.com/golang-jwt/jwt/v4"

	"github.com/aicostmanager/aicostmanager-go/pkg/inistore"
)

// signedEnvelope builds a valid RS256 envelope carrying the given limits.
func signedEnvelope(t *testing.T, issuer string, events []TriggeredLimit) *Envelope {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	claims := envelopeClaims{
		TriggeredLimits: events,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: issuer,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("failed to marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	return &Envelope{
		Version:          "1",
		KeyID:            "test-key",
		PublicKey:        string(pubPEM),
		EncryptedPayload: token,
	}
}

func newTestCache(t *testing.T, policy FailurePolicy) *Cache {
	t.Helper()
	store := inistore.New(filepath.Join(t.TempDir(), "AICM.INI"))
	cache, err := NewCache(CacheConfig{Store: store, Policy: policy})
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	return cache
}

func TestCacheWriteReadVerbatim(t *testing.T) {
	cache := newTestCache(t, FailOpen)
	env := &Envelope{
		Version:          "1",
		KeyID:            "k",
		PublicKey:        "not-a-key",
		EncryptedPayload: "not-a-token",
	}
	if err := cache.Write(env); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := cache.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got == nil || *got != *env {
		t.Errorf("envelope not stored verbatim: %+v", got)
	}
}

func TestCacheReadEmpty(t *testing.T) {
	cache := newTestCache(t, FailOpen)
	got, err := cache.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil envelope, got %+v", got)
	}

	matched, err := cache.Query("", "", "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if matched != nil {
		t.Errorf("expected no matches, got %v", matched)
	}
}

func TestCacheQueryVerifiedEnvelope(t *testing.T) {
	cache := newTestCache(t, FailOpen)
	env := signedEnvelope(t, DefaultIssuer, []TriggeredLimit{
		{LimitID: "lim-1", ThresholdType: ThresholdLimit, Vendor: "openai", ServiceID: "gpt-4o"},
		{LimitID: "lim-2", ThresholdType: ThresholdAlert, Vendor: "anthropic"},
	})
	if err := cache.Write(env); err != nil {
		t.Fatalf("Write: %v", err)
	}

	matched, err := cache.Query("", "openai::gpt-4o", "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matched) != 1 || matched[0].LimitID != "lim-1" {
		t.Errorf("unexpected matches: %+v", matched)
	}

	matched, err = cache.Query("", "anthropic::claude-sonnet", "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matched) != 1 || matched[0].LimitID != "lim-2" {
		t.Errorf("vendor-scoped limit should match: %+v", matched)
	}
}

func TestCacheQueryBadEnvelopeFailOpen(t *testing.T) {
	cache := newTestCache(t, FailOpen)
	if err := cache.Write(&Envelope{
		PublicKey:        "garbage",
		EncryptedPayload: "garbage",
	}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	matched, err := cache.Query("", "openai::gpt-4o", "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if matched != nil {
		t.Errorf("fail-open should report no limits, got %v", matched)
	}
}

func TestCacheQueryBadEnvelopeFailClosed(t *testing.T) {
	cache := newTestCache(t, FailClosed)
	if err := cache.Write(&Envelope{
		PublicKey:        "garbage",
		EncryptedPayload: "garbage",
	}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	matched, err := cache.Query("key-1", "openai::gpt-4o", "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matched) != 1 {
		t.Fatalf("fail-closed should report one synthetic limit, got %v", matched)
	}
	if !matched[0].Blocks() {
		t.Error("synthetic limit must block")
	}
	if matched[0].LimitID != "unverified-envelope" {
		t.Errorf("limit id = %q", matched[0].LimitID)
	}
}

func TestCacheQueryWrongIssuer(t *testing.T) {
	cache := newTestCache(t, FailOpen)
	env := signedEnvelope(t, "someone-else", []TriggeredLimit{
		{LimitID: "lim-1", ThresholdType: ThresholdLimit},
	})
	if err := cache.Write(env); err != nil {
		t.Fatalf("Write: %v", err)
	}

	matched, err := cache.Query("", "", "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if matched != nil {
		t.Errorf("wrong issuer must not yield limits under fail-open: %v", matched)
	}
}

func TestTriggeredLimitMatches(t *testing.T) {
	tests := []struct {
		name        string
		limit       TriggeredLimit
		apiKeyID    string
		serviceKey  string
		customerKey string
		want        bool
	}{
		{
			name:  "unscoped matches everything",
			limit: TriggeredLimit{ThresholdType: ThresholdLimit},
			want:  true,
		},
		{
			name:       "service id exact match",
			limit:      TriggeredLimit{Vendor: "openai", ServiceID: "gpt-4o"},
			serviceKey: "openai::gpt-4o",
			want:       true,
		},
		{
			name:       "service id mismatch",
			limit:      TriggeredLimit{Vendor: "openai", ServiceID: "gpt-4o"},
			serviceKey: "openai::gpt-4o-mini",
			want:       false,
		},
		{
			name:       "vendor-only matches any service of vendor",
			limit:      TriggeredLimit{Vendor: "openai"},
			serviceKey: "openai::gpt-4o-mini",
			want:       true,
		},
		{
			name:       "vendor-only mismatch",
			limit:      TriggeredLimit{Vendor: "openai"},
			serviceKey: "anthropic::claude-sonnet",
			want:       false,
		},
		{
			name:       "legacy flat service key",
			limit:      TriggeredLimit{ServiceKey: "openai::gpt-4o"},
			serviceKey: "openai::gpt-4o",
			want:       true,
		},
		{
			name:       "scoped limit needs a service key",
			limit:      TriggeredLimit{Vendor: "openai", ServiceID: "gpt-4o"},
			serviceKey: "",
			want:       false,
		},
		{
			name:     "api key mismatch",
			limit:    TriggeredLimit{APIKeyID: "key-a"},
			apiKeyID: "key-b",
			want:     false,
		},
		{
			name:     "api key match",
			limit:    TriggeredLimit{APIKeyID: "key-a"},
			apiKeyID: "key-a",
			want:     true,
		},
		{
			name:        "customer mismatch",
			limit:       TriggeredLimit{ClientCustomerKey: "cust-a"},
			customerKey: "cust-b",
			want:        false,
		},
		{
			name:        "customer match",
			limit:       TriggeredLimit{ClientCustomerKey: "cust-a"},
			customerKey: "cust-a",
			want:        true,
		},
		{
			name:        "limit without customer scope matches any customer",
			limit:       TriggeredLimit{},
			customerKey: "cust-a",
			want:        true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.limit.matches(tt.apiKeyID, tt.serviceKey, tt.customerKey)
			if got != tt.want {
				t.Errorf("matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBlocks(t *testing.T) {
	if (&TriggeredLimit{ThresholdType: ThresholdAlert}).Blocks() {
		t.Error("alert must not block")
	}
	if !(&TriggeredLimit{ThresholdType: ThresholdLimit}).Blocks() {
		t.Error("limit must block")
	}
}

func TestParseEnvelopeResponse(t *testing.T) {
	inner := `{"encrypted_payload": "ep", "public_key": "pk", "version": "1", "server_extra": "kept"}`
	raw, err := parseEnvelopeResponse([]byte(`{"triggered_limits": ` + inner + `}`))
	if err != nil {
		t.Fatalf("wrapped form: %v", err)
	}
	if string(raw) != inner {
		t.Errorf("wrapped form must keep the inner bytes unmodified:\n%s", raw)
	}

	bare := []byte(`{"version": "1", "public_key": "pk2", "encrypted_payload": "ep2"}`)
	raw, err = parseEnvelopeResponse(bare)
	if err != nil {
		t.Fatalf("bare form: %v", err)
	}
	if string(raw) != string(bare) {
		t.Errorf("bare form must keep the body unmodified:\n%s", raw)
	}

	if _, err := parseEnvelopeResponse([]byte(`[1,2]`)); err == nil {
		t.Error("expected error for malformed response")
	}
}
