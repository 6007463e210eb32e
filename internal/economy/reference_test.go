package economy

import "testing"

func TestReferenceProducerSuppliesGrowthAssessmentInputs(t *testing.T) {
	produce := ReferenceProducer()

	sales := produce(PhaseSalesAnalysis, CycleData{})
	if floatField(sales, "revenue_performance", "total_revenue") != 312000.0 {
		t.Fatalf("unexpected total_revenue: %+v", sales)
	}

	financial := produce(PhaseFinancialPlanning, CycleData{})
	if floatField(financial, "cost_projections", "total_costs") != 750000.0 {
		t.Fatalf("unexpected total_costs: %+v", financial)
	}

	engagement := produce(PhaseUserEngagement, CycleData{})
	if floatField(engagement, "user_base", "user_growth_rate") != 0.22 {
		t.Fatalf("unexpected user_growth_rate: %+v", engagement)
	}
}

func TestReferenceProducerCoversEveryPhase(t *testing.T) {
	produce := ReferenceProducer()
	for _, phase := range phaseOrder {
		if artifact := produce(phase, CycleData{}); len(artifact) == 0 {
			t.Fatalf("expected a nonempty artifact for phase %s", phase)
		}
	}
}
