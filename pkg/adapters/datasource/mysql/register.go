package mysql

import (
	"context"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.DatasourceAdapterRegistration{
		Info: datasource.DatasourceAdapterInfo{
			Type:        "mysql",
			DisplayName: "MySQL",
			Description: "Connect to MySQL 8+, Aurora MySQL, MariaDB",
		},
		QueryExecutorFactory: func(ctx context.Context, cfg *datasource.ConnectionConfig) (datasource.QueryExecutor, error) {
			return NewQueryExecutor(ctx, cfg)
		},
	})
}
