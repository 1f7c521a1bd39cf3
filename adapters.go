package redisnode

import "fmt"

// kvLogger exposes a Logger through the key/value signature used by the
// command, server and replication packages. MetricsCollector needs no
// such bridge: it already satisfies their collector interfaces.
type kvLogger struct {
	Logger
}

func (l kvLogger) Debug(msg string, kv ...interface{}) { l.Logger.Debug(msg, toFields(kv)...) }
func (l kvLogger) Info(msg string, kv ...interface{})  { l.Logger.Info(msg, toFields(kv)...) }
func (l kvLogger) Error(msg string, kv ...interface{}) { l.Logger.Error(msg, toFields(kv)...) }

// toFields pairs up alternating keys and values. A non-string key is
// formatted with %v; a dangling key gets the value "(missing)".
func toFields(kv []interface{}) []Field {
	if len(kv) == 0 {
		return nil
	}
	fields := make([]Field, 0, (len(kv)+1)/2)
	for len(kv) > 0 {
		key, ok := kv[0].(string)
		if !ok {
			key = fmt.Sprint(kv[0])
		}
		if len(kv) == 1 {
			fields = append(fields, Field{Key: key, Value: "(missing)"})
			break
		}
		fields = append(fields, Field{Key: key, Value: kv[1]})
		kv = kv[2:]
	}
	return fields
}
