package hub

import (
	"context"
	"fmt"

	"tracehub/internal/domain"
)

// DemoOperations returns one SEN→MLI operation per workflow stage.
// Params: none.
// Returns: fresh inputs; callers may mutate them.
func DemoOperations() []domain.OperationInput {
	return []domain.OperationInput{
		{
			OperationType:      "TRANSMISSION_MANIFESTE_LIBRE_PRATIQUE",
			OperationNumber:    "UEMOA_MAN_2025_001",
			OriginCountry:      "SEN",
			DestinationCountry: "MLI",
			Payload: domain.Payload{
				"numero_manifeste":     "MAN_SEN_2025_5016",
				"navire":               "MARCO POLO",
				"consignataire":        "MAERSK LINE SENEGAL",
				"port_debarquement":    "Port de Dakar",
				"nombre_articles":      3.0,
				"valeur_approximative": 25000000.0,
			},
			Provenance: domain.Provenance{SourceSystem: "seed", WorkflowStep: "20"},
		},
		{
			OperationType:      "COMPLETION_LIBRE_PRATIQUE",
			OperationNumber:    "UEMOA_FINAL_2025_001",
			OriginCountry:      "SEN",
			DestinationCountry: "MLI",
			Payload: domain.Payload{
				"numero_declaration": "DEC_MLI_2025_001",
				"manifeste_origine":  "MAN_SEN_2025_5016",
				"montant_paye":       3500000.0,
				"reference_paiement": "PAY_MLI_2025_001",
			},
			Provenance: domain.Provenance{SourceSystem: "seed", WorkflowStep: "21"},
		},
		{
			OperationType:      "COMPLETION_TRANSIT",
			OperationNumber:    "UEMOA_TRANSIT_2025_001",
			OriginCountry:      "SEN",
			DestinationCountry: "MLI",
			Payload: domain.Payload{
				"numero_declaration_transit": "TRA_SEN_2025_001",
				"transporteur":               "TRANSPORT SAHEL",
				"itineraire":                 "Dakar-Bamako via Kayes",
			},
			Provenance: domain.Provenance{SourceSystem: "seed", WorkflowStep: "16"},
		},
	}
}

// SeedDemo ingests the demo operations.
// Params: context.
// Returns: number of stored operations or the first failure.
func (h *Hub) SeedDemo(ctx context.Context) (int, error) {
	stored := 0
	for _, input := range DemoOperations() {
		if _, err := h.Ingest(ctx, input); err != nil {
			return stored, fmt.Errorf("seed %s: %w", input.OperationNumber, err)
		}
		stored++
	}
	return stored, nil
}
