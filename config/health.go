package config

import "context"

// Ping checks every initialized backing store. Stores that were never
// initialized are reported as "disabled".
func Ping(ctx context.Context) map[string]string {
	out := map[string]string{}

	switch {
	case PostgresDB == nil:
		out["postgres"] = "disabled"
	default:
		sqlDB, err := PostgresDB.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		out["postgres"] = status(err)
	}

	if RedisClient == nil {
		out["redis"] = "disabled"
	} else {
		out["redis"] = status(RedisClient.Ping(ctx).Err())
	}

	if MongoClient == nil {
		out["mongo"] = "disabled"
	} else {
		out["mongo"] = status(MongoClient.Ping(ctx, nil))
	}
	return out
}

func status(err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}
