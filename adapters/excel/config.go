package excel

// LoaderConfig says which files to read and which header names identify
// the well-known columns.
type LoaderConfig struct {
	EntitiesFile      string   `json:"entities_file"`
	ObservationsFile  string   `json:"observations_file"`
	IDColumns         []string `json:"id_columns"`
	NameColumns       []string `json:"name_columns"`
	PopulationColumns []string `json:"population_columns"`
}

// DefaultLoaderConfig returns the column names census extracts commonly use
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		IDColumns:         []string{"tract_id", "geoid", "entity_id", "id"},
		NameColumns:       []string{"name", "tract_name", "namelsad"},
		PopulationColumns: []string{"population", "total_population", "pop"},
	}
}
