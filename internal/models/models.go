package models

// AllModels lists every persisted model in migration order
func AllModels() []interface{} {
	return []interface{}{
		&BrandIntegrationConnection{},
		&FieldOwnershipMapping{},
		&SyncJob{},
		&SyncLog{},
		&Product{},
		&Variant{},
		&ExternalIdentifierMapping{},
		&ConnectorCredential{},
	}
}
