package storefront

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	t.Cleanup(func() { logging.SetOutput(os.Stderr) })
	return &buf
}

func TestReporter_ReportsCheckoutErrorCode(t *testing.T) {
	buf := captureLog(t)
	var counted []string
	r := &Reporter{Service: "storefront", Count: func(code string) { counted = append(counted, code) }}

	r.ReportError(domain.NewError(domain.ErrCodeInvalidState, "tx-9", "missing token", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "tx-9", line["txid"])
	assert.Equal(t, "INVALID_STATE", line["step"])
	assert.Equal(t, []string{"INVALID_STATE"}, counted)
}

func TestReporter_PlainErrorAndNil(t *testing.T) {
	buf := captureLog(t)
	var counted []string
	r := &Reporter{Service: "storefront", Count: func(code string) { counted = append(counted, code) }}

	r.ReportError(nil)
	assert.Zero(t, buf.Len())

	r.ReportError(errors.New("plain"))
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "plain", line["msg"])
	assert.Equal(t, []string{"UNKNOWN"}, counted)
}
