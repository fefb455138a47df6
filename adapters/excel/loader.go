package excel

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"equityaudit/domain/census"
	"equityaudit/domain/core"
)

// Loader reads entities and optional observations from spreadsheet or CSV
// files. Rows that fail validation are dropped and listed in the dataset's
// Rejected field; a file with no usable rows is an error.
type Loader struct {
	config LoaderConfig
	logger *zap.Logger
}

// NewLoader creates a loader. Column name lists left empty take their defaults.
func NewLoader(config LoaderConfig, logger *zap.Logger) *Loader {
	def := DefaultLoaderConfig()
	if len(config.IDColumns) == 0 {
		config.IDColumns = def.IDColumns
	}
	if len(config.NameColumns) == 0 {
		config.NameColumns = def.NameColumns
	}
	if len(config.PopulationColumns) == 0 {
		config.PopulationColumns = def.PopulationColumns
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{config: config, logger: logger}
}

// Load implements ports.EntitySource.
func (l *Loader) Load(ctx context.Context) (*census.Dataset, error) {
	if l.config.EntitiesFile == "" {
		return nil, core.NewInvalidInputError("entities_file", "cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	table, err := NewDataReader(l.config.EntitiesFile, l.logger).ReadData()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	ds := &census.Dataset{
		EntitySource: census.SourceFile,
		EntityOrigin: l.config.EntitiesFile,
	}
	if err := l.parseEntities(table, ds); err != nil {
		return nil, err
	}

	if l.config.ObservationsFile != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		obs, err := NewDataReader(l.config.ObservationsFile, l.logger).ReadData()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
		}
		if err := l.parseObservations(obs, ds); err != nil {
			return nil, err
		}
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}
	l.logger.Info("entities loaded",
		zap.String("file", l.config.EntitiesFile),
		zap.Int("entities", len(ds.Entities)),
		zap.Int("rejected", len(ds.Rejected)),
		zap.Int("observation_domains", len(ds.Observations)))
	return ds, nil
}

func (l *Loader) parseEntities(table *Table, ds *census.Dataset) error {
	reader := NewDataReader(l.config.EntitiesFile, l.logger)
	idCol, err := reader.DetectEntityColumn(table, l.config.IDColumns)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrInvalidInput, l.config.EntitiesFile, err)
	}
	popCol, ok := table.Column(l.config.PopulationColumns...)
	if !ok {
		return core.NewInvalidInputError("population", fmt.Sprintf("%s has none of the columns %s", l.config.EntitiesFile, strings.Join(l.config.PopulationColumns, ", ")))
	}
	nameCol, _ := table.Column(l.config.NameColumns...)

	attrCols := numericColumns(table, idCol, popCol, nameCol)
	l.logger.Debug("attribute columns", zap.Strings("columns", attrCols))

	for i, row := range table.Rows {
		ent, err := parseEntity(row, idCol, nameCol, popCol, attrCols)
		if err == nil {
			err = ent.Validate()
		}
		if err != nil {
			ds.Rejected = append(ds.Rejected, fmt.Sprintf("entities row %d: %v", i+2, err))
			continue
		}
		ds.Entities = append(ds.Entities, ent)
	}
	if len(ds.Entities) == 0 {
		return core.NewEmptyInputError(fmt.Sprintf("no valid entities in %s (%d rows rejected)", l.config.EntitiesFile, len(ds.Rejected)))
	}
	return nil
}

func parseEntity(row RawRowData, idCol, nameCol, popCol string, attrCols []string) (census.Entity, error) {
	id, err := core.ParseEntityID(row[idCol])
	if err != nil {
		return census.Entity{}, err
	}
	pop, err := parseCount(row[popCol])
	if err != nil {
		return census.Entity{}, core.NewInvalidInputError("population", err.Error())
	}
	ent := census.Entity{
		ID:         id,
		Population: pop,
		Attributes: make(map[census.Attribute]float64, len(attrCols)),
	}
	if nameCol != "" {
		ent.Name = row[nameCol]
	}
	for _, col := range attrCols {
		cell := row[col]
		if cell == "" {
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return census.Entity{}, core.NewInvalidInputError(col, fmt.Sprintf("%q is not a number", cell))
		}
		ent.Attributes[census.Attribute(col)] = v
	}
	return ent, nil
}

func (l *Loader) parseObservations(table *Table, ds *census.Dataset) error {
	file := l.config.ObservationsFile
	idCol, ok := table.Column(append([]string{"entity_id"}, l.config.IDColumns...)...)
	if !ok {
		return core.NewInvalidInputError("entity_id", file+" has no entity column")
	}
	domainCol, ok := table.Column("domain")
	if !ok {
		return core.NewInvalidInputError("domain", file+" has no domain column")
	}
	valueCol, ok := table.Column("value", "truth")
	if !ok {
		return core.NewInvalidInputError("value", file+" has no value column")
	}
	keyCol, _ := table.Column("key", "period", "year")

	known := ds.EntityIndex()
	ds.Observations = map[string][]census.Observation{}
	accepted := 0
	for i, row := range table.Rows {
		obs, domain, err := parseObservation(row, idCol, domainCol, keyCol, valueCol)
		if err == nil {
			if _, ok := known[obs.EntityID]; !ok {
				err = core.NewInvalidInputError("entity_id", fmt.Sprintf("unknown entity %s", obs.EntityID))
			}
		}
		if err != nil {
			ds.Rejected = append(ds.Rejected, fmt.Sprintf("observations row %d: %v", i+2, err))
			continue
		}
		ds.Observations[domain] = append(ds.Observations[domain], obs)
		accepted++
	}
	if accepted == 0 {
		return core.NewEmptyInputError("no valid observations in " + file)
	}
	return nil
}

func parseObservation(row RawRowData, idCol, domainCol, keyCol, valueCol string) (census.Observation, string, error) {
	id, err := core.ParseEntityID(row[idCol])
	if err != nil {
		return census.Observation{}, "", err
	}
	domain := strings.ToLower(row[domainCol])
	if domain == "" {
		return census.Observation{}, "", core.NewInvalidInputError("domain", "cannot be empty")
	}
	v, err := strconv.ParseFloat(row[valueCol], 64)
	if err != nil {
		return census.Observation{}, "", core.NewInvalidInputError("value", fmt.Sprintf("%q is not a number", row[valueCol]))
	}
	obs := census.Observation{EntityID: id, Value: v}
	if keyCol != "" {
		obs.Key = row[keyCol]
	}
	return obs, domain, obs.Validate()
}

// numericColumns returns the remaining columns whose non-empty cells all
// parse as numbers. Text columns such as county names are skipped.
func numericColumns(table *Table, skip ...string) []string {
	var cols []string
outer:
	for _, h := range table.Headers {
		for _, s := range skip {
			if h == s {
				continue outer
			}
		}
		seen := false
		for _, row := range table.Rows {
			cell := row[h]
			if cell == "" {
				continue
			}
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				continue outer
			}
			seen = true
		}
		if seen {
			cols = append(cols, h)
		}
	}
	return cols
}

// parseCount accepts integral values, including spreadsheet floats like "1200.0".
func parseCount(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("missing value")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if v != math.Trunc(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not a whole number", s)
	}
	return int(v), nil
}
