package models

// ModelsToAutoMigrate returns the models to automigrate, in dependency order
// so foreign keys resolve.
func ModelsToAutoMigrate() []interface{} {
	return []interface{}{
		&SearchSpace{},
		&LLMConfig{},
		&Connector{},
		&Document{},
		&Chunk{},
		&TaskLog{},
		&ChatThread{},
		&ChatMessage{},
	}
}
