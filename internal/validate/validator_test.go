package validate

import (
	"testing"

	"tracehub/internal/domain"
	"tracehub/internal/registry"
)

func newTestValidator(t *testing.T, strict bool) *Validator {
	t.Helper()
	validator, err := New(Options{Registry: registry.MustDefault(), Strict: strict, PayloadRules: DefaultPayloadRules()})
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	return validator
}

func violationFields(t *testing.T, err error) map[string]string {
	t.Helper()
	verr, ok := domain.AsValidation(err)
	if !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
	out := make(map[string]string, len(verr.Violations))
	for _, violation := range verr.Violations {
		out[violation.Field] = violation.Rule
	}
	return out
}

func TestPrepareNormalizesCountryNames(t *testing.T) {
	t.Parallel()

	validator := newTestValidator(t, true)
	prepared, err := validator.Prepare(domain.OperationInput{
		OperationType:      " manifest_transmission ",
		OperationNumber:    "M1",
		OriginCountry:      "SENEGAL",
		DestinationCountry: "mali",
	})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if prepared.OriginCountry != "SEN" || prepared.DestinationCountry != "MLI" {
		t.Fatalf("unexpected countries %q -> %q", prepared.OriginCountry, prepared.DestinationCountry)
	}
	if prepared.OperationType != "manifest_transmission" {
		t.Fatalf("type not trimmed: %q", prepared.OperationType)
	}
}

func TestPrepareCollectsAllViolations(t *testing.T) {
	t.Parallel()

	validator := newTestValidator(t, true)
	_, err := validator.Prepare(domain.OperationInput{OriginCountry: "GHANA"})
	fields := violationFields(t, err)
	for _, field := range []string{"operationType", "operationNumber", "originCountry", "destinationCountry"} {
		if _, ok := fields[field]; !ok {
			t.Fatalf("missing violation for %s in %v", field, fields)
		}
	}
	if fields["originCountry"] != "member" || fields["destinationCountry"] != "required" {
		t.Fatalf("unexpected rules %v", fields)
	}
}

func TestPrepareMissingDestination(t *testing.T) {
	t.Parallel()

	validator := newTestValidator(t, true)
	_, err := validator.Prepare(domain.OperationInput{OperationType: "x", OperationNumber: "1", OriginCountry: "SEN"})
	fields := violationFields(t, err)
	if len(fields) != 1 || fields["destinationCountry"] != "required" {
		t.Fatalf("unexpected violations %v", fields)
	}
}

func TestPrepareLenientAcceptsUnknownCodes(t *testing.T) {
	t.Parallel()

	validator := newTestValidator(t, false)
	prepared, err := validator.Prepare(domain.OperationInput{
		OperationType: "payment", OperationNumber: "P1", OriginCountry: "gha", DestinationCountry: "Niger",
	})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if prepared.OriginCountry != "GHA" || prepared.DestinationCountry != "NER" {
		t.Fatalf("unexpected countries %+v", prepared)
	}
}

func TestPrepareAcceptsSameCountry(t *testing.T) {
	t.Parallel()

	validator := newTestValidator(t, true)
	prepared, err := validator.Prepare(domain.OperationInput{
		OperationType: "payment", OperationNumber: "P1", OriginCountry: "SEN", DestinationCountry: "Sénégal",
	})
	if err != nil {
		t.Fatalf("domestic operation rejected: %v", err)
	}
	if prepared.OriginCountry != "SEN" || prepared.DestinationCountry != "SEN" {
		t.Fatalf("countries not normalized: %+v", prepared)
	}
}

func TestPreparePayloadRules(t *testing.T) {
	t.Parallel()

	validator := newTestValidator(t, true)
	base := domain.OperationInput{OperationNumber: "D1", OriginCountry: "SEN", DestinationCountry: "MLI"}

	declaration := base
	declaration.OperationType = "SOUMISSION_DECLARATION"
	declaration.Payload = domain.Payload{"bureau_declaration": "18N", "nombre_articles": "many", "valeur_totale_caf": "NaN"}
	fields := violationFields(t, func() error { _, err := validator.Prepare(declaration); return err }())
	if fields["businessPayload.numero_declaration"] != "required" {
		t.Fatalf("declaration number must be required: %v", fields)
	}
	if fields["businessPayload.nombre_articles"] != "numeric" {
		t.Fatalf("article count must be numeric: %v", fields)
	}
	if fields["businessPayload.valeur_totale_caf"] != "numeric" {
		t.Fatalf("non-finite value must be rejected: %v", fields)
	}

	relaxed := base
	relaxed.OperationType = "COMPLETION_DECLARATION"
	relaxed.Payload = domain.Payload{"note": "partial"}
	if _, err := validator.Prepare(relaxed); err != nil {
		t.Fatalf("completion types relax payload rules: %v", err)
	}

	noPayload := base
	noPayload.OperationType = "manifest_transmission"
	if _, err := validator.Prepare(noPayload); err != nil {
		t.Fatalf("rules apply only when payload is present: %v", err)
	}

	manifest := base
	manifest.OperationType = "manifest_transmission"
	manifest.Payload = domain.Payload{"numero_manifeste": "MAN-1", "consignataire": "MAERSK", "navire": "MSC"}
	if _, err := validator.Prepare(manifest); err != nil {
		t.Fatalf("complete manifest rejected: %v", err)
	}
}

func TestPrepareDoesNotShareInputPayload(t *testing.T) {
	t.Parallel()

	validator := newTestValidator(t, true)
	payload := domain.Payload{"value": 1.0}
	prepared, err := validator.Prepare(domain.OperationInput{
		OperationType: "payment", OperationNumber: "P1", OriginCountry: "SEN", DestinationCountry: "MLI", Payload: payload,
	})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	payload["value"] = 2.0
	if prepared.Payload["value"] != 1.0 {
		t.Fatalf("prepared payload aliases caller map")
	}
}

func TestNewRequiresRegistry(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error without registry")
	}
}
