// Package all registers every warehouse backend.
package all

import (
	_ "stardim/internal/storage/mssql"
	_ "stardim/internal/storage/postgres"
	_ "stardim/internal/storage/sqlite"
)
