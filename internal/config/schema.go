package config

// Schema is the JSON Schema every worker config file is validated against
// before being decoded into a WorkerConfig.
const Schema = `{
  "type": "object",
  "properties": {
    "backingStoreUrl": { "type": "string" },
    "backingStoreJwt": { "type": "string" },
    "computation": { "type": "string", "minLength": 1 },
    "keyHex": { "type": "string", "minLength": 1 },
    "workToken": { "type": "integer" },
    "logLevel": {
      "type": "string",
      "enum": ["debug", "info", "notice", "warn", "err", "crit"]
    },
    "metricsListen": { "type": "string" }
  },
  "required": ["computation", "keyHex"]
}`
