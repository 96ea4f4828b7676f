package verify

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/score-verifier/internal/model"
)

const validBody = `{
  "seasonId": "s1",
  "engineVersion": "2.4.0",
  "claimedScore": "1.234567",
  "claimedProfitRate": 0.01234567,
  "drawCount": 3900,
  "tradeLog": [
    {"tick": 0, "type": "buy", "instrumentId": 1, "quantity": 10},
    {"tick": 12, "type": "sell", "instrumentId": 1, "quantity": 4, "limitPrice": "150.10"}
  ]
}`

func TestDecodeSubmission_Valid(t *testing.T) {
	sub, err := DecodeSubmission(strings.NewReader(validBody))
	require.NoError(t, err)

	assert.Equal(t, "s1", sub.SeasonID)
	assert.True(t, sub.ClaimedScore.Equal(decimal.RequireFromString("1.234567")))
	assert.True(t, sub.ClaimedProfitRate.Equal(decimal.RequireFromString("0.01234567")))
	require.NotNil(t, sub.DrawCount)
	assert.Equal(t, uint64(3900), *sub.DrawCount)
	require.Len(t, sub.TradeLog, 2)
	assert.Equal(t, model.ActionSell, sub.TradeLog[1].Type)
	require.NotNil(t, sub.TradeLog[1].LimitPrice)
	assert.Equal(t, "150.1", sub.TradeLog[1].LimitPrice.String())
	assert.Nil(t, sub.TradeLog[0].LimitPrice)
}

func TestDecodeSubmission_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"seasonId":`},
		{"not an object", `[1,2,3]`},
		{"missing claimed score", `{"seasonId":"s1","engineVersion":"2.4.0","claimedProfitRate":"0","tradeLog":[]}`},
		{"empty season", `{"seasonId":"","engineVersion":"2.4.0","claimedScore":"0","claimedProfitRate":"0","tradeLog":[]}`},
		{"unknown action", `{"seasonId":"s1","engineVersion":"2.4.0","claimedScore":"0","claimedProfitRate":"0",
			"tradeLog":[{"tick":0,"type":"steal","instrumentId":1,"quantity":1}]}`},
		{"negative quantity", `{"seasonId":"s1","engineVersion":"2.4.0","claimedScore":"0","claimedProfitRate":"0",
			"tradeLog":[{"tick":0,"type":"buy","instrumentId":1,"quantity":-5}]}`},
		{"fractional tick", `{"seasonId":"s1","engineVersion":"2.4.0","claimedScore":"0","claimedProfitRate":"0",
			"tradeLog":[{"tick":1.5,"type":"buy","instrumentId":1,"quantity":1}]}`},
		{"client price smuggled in", `{"seasonId":"s1","engineVersion":"2.4.0","claimedScore":"0","claimedProfitRate":"0",
			"tradeLog":[{"tick":0,"type":"buy","instrumentId":1,"quantity":1,"price":"1.00"}]}`},
		{"bad logic hash", `{"seasonId":"s1","engineVersion":"2.4.0","claimedScore":"0","claimedProfitRate":"0",
			"logicHash":"XYZ","tradeLog":[]}`},
		{"non-numeric claim", `{"seasonId":"s1","engineVersion":"2.4.0","claimedScore":"lots","claimedProfitRate":"0","tradeLog":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSubmission(strings.NewReader(tt.body))
			require.Error(t, err)
			assert.Equal(t, CodeValidation, CodeOf(err))
		})
	}
}

func TestDecodeSubmission_TooLarge(t *testing.T) {
	body := `{"seasonId":"` + strings.Repeat("x", MaxPayloadBytes) + `"}`
	_, err := DecodeSubmission(strings.NewReader(body))
	require.Error(t, err)
	assert.Equal(t, CodeValidation, CodeOf(err))
}

func TestFailure_HidesInternalDetail(t *testing.T) {
	resp := Failure(newError(CodeInternal, "season lookup failed", assert.AnError))
	assert.Equal(t, "INTERNAL_ERROR", resp.ErrorCode)
	assert.True(t, resp.Retryable)
	assert.NotContains(t, resp.Message, "season lookup")

	resp = Failure(assert.AnError)
	assert.Equal(t, "INTERNAL_ERROR", resp.ErrorCode)

	resp = Failure(newError(CodeReplayMismatch, "claimed result does not match the replay", nil))
	assert.False(t, resp.Retryable)
	assert.Equal(t, "claimed result does not match the replay", resp.Message)
}

func TestCode_Retryable(t *testing.T) {
	retryable := map[Code]bool{
		CodeValidation:         false,
		CodeVersionUnsupported: false,
		CodeSeasonNotFound:     false,
		CodeSeasonEnded:        false,
		CodeIntegrityRejected:  false,
		CodeReplayMismatch:     false,
		CodeRateLimited:        true,
		CodeInternal:           true,
	}
	for code, want := range retryable {
		assert.Equal(t, want, code.Retryable(), string(code))
	}
}
