package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"tradeflow/internal/model"
	"tradeflow/pkg/errors"
	"tradeflow/pkg/errors/ecode"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	h := NewHandler(nil, "topsecret")
	body := []byte(`{"symbol":"EUR_USD"}`)

	if !h.verifySignature(body, sign("topsecret", body)) {
		t.Fatal("valid signature rejected")
	}
	if h.verifySignature(body, sign("wrong", body)) {
		t.Fatal("wrong secret accepted")
	}
	if h.verifySignature(body, "") {
		t.Fatal("missing signature accepted")
	}
	// 内网部署不配密钥，放行
	open := NewHandler(nil, "")
	if !open.verifySignature(body, "") {
		t.Fatal("empty secret should skip verification")
	}
}

func TestToCodedError(t *testing.T) {
	cases := []struct {
		kind   model.ErrorKind
		source string
		want   int
	}{
		{model.ErrKindValidation, "admission:notional_floor", ecode.ErrAdmission},
		{model.ErrKindValidation, "cooldown", ecode.ErrCooldown},
		{model.ErrKindConfiguration, "router", ecode.ErrNoVenue},
		{model.ErrKindTransport, "oanda", ecode.ErrTransport},
		{model.ErrKindIntegrity, "registry", ecode.ErrIntegrity},
		{model.ErrKindLatency, "okx", ecode.ErrLatency},
		{model.ErrKindInternal, "", ecode.ErrInternal},
	}
	for _, c := range cases {
		err := toCodedError(&model.ExecutionError{Kind: c.kind, Source: c.source, Message: "x"})
		code, _ := errors.DecodeErr(err)
		if code != c.want {
			t.Fatalf("kind %s source %s: code %d, want %d", c.kind, c.source, code, c.want)
		}
	}
	if code, _ := errors.DecodeErr(toCodedError(nil)); code != ecode.ErrInternal {
		t.Fatal("nil error should map to internal")
	}
}
