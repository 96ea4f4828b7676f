package replay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/atmx/score-verifier/internal/market"
	"github.com/atmx/score-verifier/internal/pricing"
	"github.com/atmx/score-verifier/internal/universe"
	"github.com/atmx/score-verifier/internal/version"
)

// logicDescriptor is everything that determines replay output besides the
// seed and the log. Map keys marshal sorted, so the encoding is canonical.
type logicDescriptor struct {
	EngineVersion string                                     `json:"engineVersion"`
	Replay        Config                                     `json:"replay"`
	Market        market.Config                              `json:"market"`
	Pricing       pricing.Config                             `json:"pricing"`
	Classes       map[pricing.AssetClass]pricing.ClassParams `json:"classes"`
	Universe      []universe.Spec                            `json:"universe"`
}

func logicHash(it *Interpreter) (string, error) {
	classes := make(map[pricing.AssetClass]pricing.ClassParams, len(pricing.Classes))
	for _, c := range pricing.Classes {
		p, err := pricing.Params(c)
		if err != nil {
			return "", err
		}
		classes[c] = p
	}
	data, err := json.Marshal(logicDescriptor{
		EngineVersion: version.Engine,
		Replay:        it.cfg,
		Market:        it.market.Config(),
		Pricing:       it.pricing.Config(),
		Classes:       classes,
		Universe:      it.universe.Specs(),
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
