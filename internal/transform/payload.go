package transform

// Wire schema of the platform's POST /requests body. Field names are part of
// the external contract; do not rename.

// Payload is the request body: one batch wrapping one order.
type Payload struct {
	Batch Batch `json:"batch"`
}

// Batch is the outer envelope.
type Batch struct {
	ExternalID string `json:"externalId"`
	Date       string `json:"date"`
	Time       string `json:"time"`
	Order      Order  `json:"order"`
}

// Order is one lab order with its patient, optional physician and tests.
type Order struct {
	ExternalID    string     `json:"externalId"`
	Date          string     `json:"date"`
	Time          string     `json:"time"`
	PatientHeight float64    `json:"patientHeight"`
	PatientWeight float64    `json:"patientWeight"`
	Patient       Patient    `json:"patient"`
	Physician     *Physician `json:"physician"`
	Tests         []Test     `json:"tests"`
}

// Patient carries the identity fields the platform deduplicates on.
type Patient struct {
	ExternalID string  `json:"externalId"`
	Name       string  `json:"name"`
	BirthDate  string  `json:"birthDate"`
	Gender     string  `json:"gender"`
	Weight     float64 `json:"weight"`
	Height     float64 `json:"height"`
}

// Physician is the optional ordering physician block.
type Physician struct {
	ExternalID          string `json:"externalId"`
	Name                string `json:"name"`
	CouncilAbbreviation string `json:"councilAbbreviation"`
	CouncilNumber       string `json:"councilNumber"`
	CouncilUf           string `json:"councilUf"`
}

// Test is one line item with its resolved specimen and annotations.
type Test struct {
	ExternalID             string     `json:"externalId"`
	CollectionDate         string     `json:"collectionDate"`
	CollectionTime         string     `json:"collectionTime"`
	SupportTestID          string     `json:"supportTestId"`
	SupportSpecimenID      string     `json:"supportSpecimenId"`
	AdditionalInformations []KeyValue `json:"additionalInformations"`
	Condition              string     `json:"condition"`
	Preservative           string     `json:"preservative"`
	DiuresisVolume         float64    `json:"diuresisVolume"`
	DiuresisTime           float64    `json:"diuresisTime"`
}

// KeyValue is one free-form annotation.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
