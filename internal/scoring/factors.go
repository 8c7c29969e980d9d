package scoring

import (
	"strings"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
)

// Factor names recorded on score logs.
const (
	FactorPrecatorio = "precatorio"
	FactorValue      = "valor_acima_do_piso"
	FactorRegion     = "regiao_atendida"
	FactorUrgency    = "urgencia"
	FactorDocuments  = "documentos"
	FactorInterest   = "interesse"
	FactorManual     = "ajuste_manual"
	FactorAI         = "avaliacao_ia"
)

// Points awarded by each factor.
const (
	PointsPrecatorio = 40
	PointsValue      = 20
	PointsRegion     = 10
	PointsUrgency    = 15
	PointsDocuments  = 10
	PointsInterest   = 5
)

const (
	MinScore = 0
	MaxScore = 100
)

// Clamp bounds score to [MinScore, MaxScore].
func Clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// Classify maps a score onto its band: hot 80-100, warm 50-79, cold 20-49, discard 0-19.
// Out of range scores are clamped first.
func Classify(score int) model.Classification {
	switch s := Clamp(score); {
	case s >= 80:
		return model.ClassificationHot
	case s >= 50:
		return model.ClassificationWarm
	case s >= 20:
		return model.ClassificationCold
	default:
		return model.ClassificationDiscard
	}
}

// FactorTable evaluates which factors a set of attributes satisfies.
type FactorTable struct {
	valueFloor float64
	regions    map[string]struct{}
}

// NewFactorTable builds a table with the given value floor and region allow-list (UF codes).
func NewFactorTable(valueFloor float64, regions []string) *FactorTable {
	allowed := make(map[string]struct{}, len(regions))
	for _, r := range regions {
		allowed[strings.ToUpper(strings.TrimSpace(r))] = struct{}{}
	}
	return &FactorTable{valueFloor: valueFloor, regions: allowed}
}

// RegionAllowed reports whether the UF code is in the allow-list.
func (t *FactorTable) RegionAllowed(region string) bool {
	_, ok := t.regions[strings.ToUpper(strings.TrimSpace(region))]
	return ok
}

// Satisfied lists the factors a holds, in table order.
func (t *FactorTable) Satisfied(a model.LeadAttributes) []model.ScoreFactor {
	var out []model.ScoreFactor
	if a.HasPrecatorio {
		out = append(out, model.ScoreFactor{Factor: FactorPrecatorio, Points: PointsPrecatorio})
	}
	if a.AssetValue > t.valueFloor {
		out = append(out, model.ScoreFactor{Factor: FactorValue, Points: PointsValue})
	}
	if a.Region != "" && t.RegionAllowed(a.Region) {
		out = append(out, model.ScoreFactor{Factor: FactorRegion, Points: PointsRegion})
	}
	if a.Urgency {
		out = append(out, model.ScoreFactor{Factor: FactorUrgency, Points: PointsUrgency})
	}
	if a.DocumentsReceived {
		out = append(out, model.ScoreFactor{Factor: FactorDocuments, Points: PointsDocuments})
	}
	if a.Interested {
		out = append(out, model.ScoreFactor{Factor: FactorInterest, Points: PointsInterest})
	}
	return out
}

// Awarded returns the factors next satisfies that prev did not. Each factor
// therefore counts at most once over the life of a lead.
func (t *FactorTable) Awarded(prev, next model.LeadAttributes) []model.ScoreFactor {
	had := make(map[string]struct{})
	for _, f := range t.Satisfied(prev) {
		had[f.Factor] = struct{}{}
	}
	var out []model.ScoreFactor
	for _, f := range t.Satisfied(next) {
		if _, ok := had[f.Factor]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// Sum adds up factor points.
func Sum(factors []model.ScoreFactor) int {
	total := 0
	for _, f := range factors {
		total += f.Points
	}
	return total
}
