// Package model holds the order aggregate exchanged between the change
// source, the debounce engine, the transformer and the failure sink.
//
// JSON tags keep the legacy field names of the source schema so failure
// records written by earlier generations of this relay stay replayable.
package model

// Item is one lab-test line item. Values are already normalized (ISO
// datetimes, plain floats) by the scan boundary in normalize.go.
type Item struct {
	ItemID          int64   `json:"CodItemSol"`
	EntryDate       string  `json:"DataEntrada"`
	Description     string  `json:"DescExames"`
	TestCode        string  `json:"CodigoExame"`
	Provider        string  `json:"NomeTerceirizado"`
	Fee             float64 `json:"Valor"`
	ProviderFee     float64 `json:"VlTerceirizado"`
	ResultStatus    string  `json:"SituacaoResultado"`
	Source          string  `json:"Origem"`
	ExamDescription string  `json:"ExameDescricao"`
}

// OrderHeader is the parent-order snapshot shared by all items of one order.
type OrderHeader struct {
	OrderID     int64   `json:"codsolicitacao"`
	PatientID   *int64  `json:"codpaciente"`
	PayerID     *int64  `json:"CodConvenio"`
	EntryDate   string  `json:"dtaentrada"`
	EntryTime   string  `json:"Hora"`
	Total       float64 `json:"Valortotal"`
	PaymentType string  `json:"TipoPgto"`
	Note        string  `json:"Obs_Sol"`
}

// Patient is the patient snapshot attached to an order.
type Patient struct {
	Name      string `json:"nome"`
	Document  string `json:"cpf"`
	BirthDate string `json:"datanasc"`
	Phone     string `json:"fone"`
	Email     string `json:"email"`
	City      string `json:"cidade"`
	State     string `json:"uf"`
	Sex       string `json:"sexo"`
	PatientID *int64 `json:"codpaciente"`
}

// Event is one order aggregate: the unit of transformation and delivery.
type Event struct {
	Order   OrderHeader `json:"solicitacao"`
	Patient Patient     `json:"paciente"`
	Items   []Item      `json:"itens"`
}

// Row is one fetched change-source record: an item joined with its parent
// order and patient attributes.
type Row struct {
	Item    Item
	Order   OrderHeader
	Patient Patient
}
