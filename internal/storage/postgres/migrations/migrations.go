// migrations содержит SQL-миграции схемы PostgreSQL, встраиваемые в бинарник.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
