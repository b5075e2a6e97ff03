// Package zqttd implements the core of an MQTT 3.1.1 publish/subscribe
// broker: topic grammar validation, a wildcard-aware subscription trie,
// and the session/broker actor pipeline that accepts connections and
// fans out published messages. See SPEC_FULL.md for the full component
// breakdown.
package zqttd
