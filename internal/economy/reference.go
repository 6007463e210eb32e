package economy

// ReferenceProducer returns an ArtifactProducer that supplies the same
// fixed per-phase artifact shapes the reference implementation used for
// its demo cycles. Concrete agent bodies are out of scope (§1 Non-goals);
// this gives RunCycle/RunContinuous something deterministic to drive the
// GrowthAssessment formulas with when no live agent handler is wired in.
func ReferenceProducer() ArtifactProducer {
	return func(phase Phase, data CycleData) Artifact {
		switch phase {
		case PhaseMarketAnalysis:
			return Artifact{
				"market_sentiment": "bullish",
				"trending_sectors": []interface{}{"foodtech", "defi"},
				"volatility_index": 0.24,
				"growth_opportunities": map[string]interface{}{
					"foodtech": 0.89, "fintech": 0.76, "proptech": 0.63, "defi": 0.82,
				},
				"market_risks": []interface{}{"inflation", "regulation"},
			}
		case PhaseInvestmentAnalysis:
			return Artifact{
				"recommended_allocations": map[string]interface{}{
					"foodtech": 0.40, "defi": 0.30, "fintech": 0.20, "proptech": 0.10,
				},
				"overall_expected_roi": 0.27,
				"confidence_level":     0.83,
			}
		case PhaseBusinessStrategy:
			return Artifact{
				"strategy_focus": "aggressive_growth",
				"target_markets": []interface{}{"urban_millennials", "health_conscious_families", "remote_workers"},
				"projected_outcomes": map[string]interface{}{
					"user_base_growth": 0.35,
				},
			}
		case PhaseFinancialPlanning:
			return Artifact{
				"budget_allocation": map[string]interface{}{
					"product_development": 120000.0, "marketing_campaigns": 150000.0,
					"market_expansion": 80000.0, "technology_infrastructure": 100000.0, "emergency_reserves": 50000.0,
				},
				"revenue_projections": map[string]interface{}{
					"q1": 180000.0, "q2": 220000.0, "q3": 280000.0, "q4": 350000.0, "annual_total": 1030000.0,
				},
				"cost_projections": map[string]interface{}{
					"operational_costs": 400000.0, "marketing_spend": 150000.0,
					"development_costs": 200000.0, "total_costs": 750000.0,
				},
				"financial_health_score": 0.82,
			}
		case PhaseAirdropMarketing:
			return Artifact{
				"campaign_type":   "referral_airdrop",
				"tokens_allocated": 50000.0,
				"expected_reach":   12000.0,
				"conversion_rate":  0.08,
			}
		case PhaseUserEngagement:
			return Artifact{
				"user_base": map[string]interface{}{
					"total_active_users": 28500.0, "new_users_this_cycle": 5200.0,
					"returning_users": 23300.0, "user_growth_rate": 0.22,
				},
				"engagement_metrics": map[string]interface{}{
					"daily_active_users": 15600.0, "session_duration_minutes": 12.3, "bounce_rate": 0.23,
				},
				"satisfaction_scores": map[string]interface{}{
					"nps_score": 72.0, "customer_satisfaction": 4.6,
				},
			}
		case PhaseSalesAnalysis:
			return Artifact{
				"revenue_performance": map[string]interface{}{
					"total_revenue": 312000.0, "revenue_growth": 0.38,
					"average_order_value": 67.50, "orders_count": 4622.0, "repeat_customer_revenue": 0.72,
				},
				"product_performance": map[string]interface{}{
					"top_categories": []interface{}{"healthy_meals", "beverages", "snacks"},
				},
			}
		case PhaseGrowthAssessment:
			return Artifact{
				"assessment_scope": "full_cycle",
			}
		default:
			return Artifact{}
		}
	}
}
