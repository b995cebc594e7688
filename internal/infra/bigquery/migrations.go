package bigquery

import "embed"

// Migrations holds the dataset DDL. Files are named NNNN_name.sql and use
// {{PROJECT_ID}} and {{DATASET_ID}} placeholders.
//
//go:embed migrations/*.sql
var Migrations embed.FS
