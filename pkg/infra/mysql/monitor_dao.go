package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"amese/labsync/internal/model"
)

// watermarkName is the logical name of the relay's cursor row.
const watermarkName = "ItemSolMonitor"

// MonitorDAO owns the watermark row and the change-source fetch.
type MonitorDAO struct {
	db *gorm.DB
}

// NewMonitorDAO opens the operational database connection.
func NewMonitorDAO(dsn string) (*MonitorDAO, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &MonitorDAO{
		db: db,
	}, nil
}

// Bootstrap creates the watermark table and row when they are absent.
// The row starts at last_item_id = 0.
func (dao *MonitorDAO) Bootstrap(ctx context.Context) error {
	createTable := `
CREATE TABLE IF NOT EXISTS monitor_state (
  name VARCHAR(64) NOT NULL PRIMARY KEY,
  last_item_id BIGINT NOT NULL DEFAULT 0,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`
	if err := dao.db.WithContext(ctx).Exec(createTable).Error; err != nil {
		return fmt.Errorf("failed to create monitor_state: %w", err)
	}

	seed := `INSERT IGNORE INTO monitor_state (name, last_item_id) VALUES (?, 0)`
	if err := dao.db.WithContext(ctx).Exec(seed, watermarkName).Error; err != nil {
		return fmt.Errorf("failed to seed monitor_state: %w", err)
	}

	return nil
}

// Cursor is the transactional view of one poll cycle: locked watermark read,
// change-source fetch, conditional watermark write. All three run on the same
// row-locked transaction so a second relay instance cannot double-advance.
type Cursor interface {
	LastItemID(ctx context.Context) (int64, error)
	SetLastItemID(ctx context.Context, id int64) error
	FetchRows(ctx context.Context, after int64, providers []string, limit int) ([]model.Row, error)
}

// InCycle runs fn inside a single transaction. Returning an error rolls the
// cycle back, leaving the watermark untouched.
func (dao *MonitorDAO) InCycle(ctx context.Context, fn func(cur Cursor) error) error {
	return dao.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&cycleTx{tx: tx})
	})
}

// Ping verifies the connection is alive.
func (dao *MonitorDAO) Ping(ctx context.Context) error {
	sqlDB, err := dao.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (dao *MonitorDAO) Close() error {
	sqlDB, err := dao.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// cycleTx implements Cursor on a live transaction.
type cycleTx struct {
	tx *gorm.DB
}

// LastItemID reads the watermark with a row lock held until commit.
func (c *cycleTx) LastItemID(ctx context.Context) (int64, error) {
	var last sql.NullInt64
	err := c.tx.WithContext(ctx).
		Raw(`SELECT last_item_id FROM monitor_state WHERE name = ? FOR UPDATE`, watermarkName).
		Scan(&last).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read watermark: %w", err)
	}
	return last.Int64, nil
}

// SetLastItemID advances the watermark.
func (c *cycleTx) SetLastItemID(ctx context.Context, id int64) error {
	result := c.tx.WithContext(ctx).
		Exec(`UPDATE monitor_state SET last_item_id = ?, updated_at = UTC_TIMESTAMP() WHERE name = ?`,
			id, watermarkName)
	if result.Error != nil {
		return fmt.Errorf("failed to update watermark: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("watermark row not found: %s", watermarkName)
	}
	return nil
}

// itemRow matches the fetch join column aliases.
type itemRow struct {
	CodItemSol          int64           `gorm:"column:CodItemSol"`
	CodSolicitacao      int64           `gorm:"column:CodSolicitacao"`
	DataEntrada         sql.NullTime    `gorm:"column:DataEntrada"`
	DescExames          sql.NullString  `gorm:"column:DescExames"`
	CodConvExames       sql.NullString  `gorm:"column:CodConvExames"`
	NomeTerceirizado    sql.NullString  `gorm:"column:NomeTerceirizado"`
	Valor               sql.NullFloat64 `gorm:"column:Valor"`
	VlTerceirizado      sql.NullFloat64 `gorm:"column:VlTerceirizado"`
	SituacaoResultado   sql.NullString  `gorm:"column:SituacaoResultado"`
	Origem              sql.NullString  `gorm:"column:Origem"`
	CodPaciente         sql.NullInt64   `gorm:"column:codpaciente"`
	CodConvenio         sql.NullInt64   `gorm:"column:CodConvenio"`
	SolDtaEntrada       sql.NullTime    `gorm:"column:Sol_dtaentrada"`
	Hora                sql.NullString  `gorm:"column:Hora"`
	ValorTotal          sql.NullFloat64 `gorm:"column:Valortotal"`
	TipoPgto            sql.NullString  `gorm:"column:TipoPgto"`
	ObsSol              sql.NullString  `gorm:"column:Obs_Sol"`
	PacienteNome        sql.NullString  `gorm:"column:PacienteNome"`
	PacienteCPF         sql.NullString  `gorm:"column:PacienteCPF"`
	PacienteNascimento  sql.NullTime    `gorm:"column:PacienteNascimento"`
	PacienteFone        sql.NullString  `gorm:"column:PacienteFone"`
	PacienteEmail       sql.NullString  `gorm:"column:PacienteEmail"`
	PacienteCidade      sql.NullString  `gorm:"column:PacienteCidade"`
	PacienteUF          sql.NullString  `gorm:"column:PacienteUF"`
	PacienteSexo        sql.NullString  `gorm:"column:PacienteSexo"`
	ExameDescricao      sql.NullString  `gorm:"column:ExameDescricao"`
}

const fetchSQL = `
SELECT i.CodItemSol, i.CodSolicitacao, i.DataEntrada, i.DescExames, i.CodConvExames,
       i.NomeTerceirizado, i.Valor, i.VlTerceirizado, i.SituacaoResultado, i.Origem,
       s.codpaciente, s.CodConvenio, s.dtaentrada AS Sol_dtaentrada, s.Hora, s.Valortotal,
       s.TipoPgto, s.Obs_Sol,
       p.nome AS PacienteNome, p.cpf AS PacienteCPF, p.datanasc AS PacienteNascimento,
       p.fone AS PacienteFone, p.EmailPac AS PacienteEmail, p.cidade AS PacienteCidade,
       p.uf AS PacienteUF, p.sexo AS PacienteSexo,
       te.descricao AS ExameDescricao
FROM ItemSol i
JOIN solicitacao s ON s.codsolicitacao = i.CodSolicitacao
LEFT JOIN paciente p ON p.codpaciente = s.codpaciente
LEFT JOIN texame te ON te.CodTexame = i.CodTExame
WHERE i.CodItemSol > ?`

// FetchRows returns new rows ordered ascending by item id, capped at limit.
// providers filters on the outsourced-lab name; empty means no filter.
func (c *cycleTx) FetchRows(ctx context.Context, after int64, providers []string, limit int) ([]model.Row, error) {
	query := fetchSQL
	args := []interface{}{after}

	if len(providers) == 1 {
		query += "\n  AND i.NomeTerceirizado = ?"
		args = append(args, providers[0])
	} else if len(providers) > 1 {
		query += "\n  AND i.NomeTerceirizado IN (?)"
		args = append(args, providers)
	}

	query += "\nORDER BY i.CodItemSol ASC\nLIMIT ?"
	args = append(args, limit)

	var raw []itemRow
	if err := c.tx.WithContext(ctx).Raw(query, args...).Scan(&raw).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch items: %w", err)
	}

	rows := make([]model.Row, 0, len(raw))
	for _, r := range raw {
		rows = append(rows, toRow(r))
	}
	return rows, nil
}

// toRow applies the value-normalization boundary to one fetched record.
func toRow(r itemRow) model.Row {
	return model.Row{
		Item: model.Item{
			ItemID:          r.CodItemSol,
			EntryDate:       model.ISODateTime(r.DataEntrada),
			Description:     model.String(r.DescExames),
			TestCode:        model.String(r.CodConvExames),
			Provider:        model.String(r.NomeTerceirizado),
			Fee:             model.Float(r.Valor),
			ProviderFee:     model.Float(r.VlTerceirizado),
			ResultStatus:    model.String(r.SituacaoResultado),
			Source:          model.String(r.Origem),
			ExamDescription: model.String(r.ExameDescricao),
		},
		Order: model.OrderHeader{
			OrderID:     r.CodSolicitacao,
			PatientID:   model.IntPtr(r.CodPaciente),
			PayerID:     model.IntPtr(r.CodConvenio),
			EntryDate:   model.ISODateTime(r.SolDtaEntrada),
			EntryTime:   model.ClockTime(r.Hora),
			Total:       model.Float(r.ValorTotal),
			PaymentType: model.String(r.TipoPgto),
			Note:        model.String(r.ObsSol),
		},
		Patient: model.Patient{
			Name:      model.String(r.PacienteNome),
			Document:  model.String(r.PacienteCPF),
			BirthDate: model.ISODateTime(r.PacienteNascimento),
			Phone:     model.String(r.PacienteFone),
			Email:     model.String(r.PacienteEmail),
			City:      model.String(r.PacienteCidade),
			State:     model.String(r.PacienteUF),
			Sex:       model.String(r.PacienteSexo),
			PatientID: model.IntPtr(r.CodPaciente),
		},
	}
}
