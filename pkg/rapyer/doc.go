// Package rapyer binds struct-declared data models to documents in a
// networked JSON key-value store, turning ordinary field mutation into
// atomic remote commands without manual read-modify-write.
//
// A model is a struct embedding Base (tagged json:"-") whose fields are
// proxy types:
//
//	type User struct {
//		rapyer.Base `json:"-"`
//		Name rapyer.Value[string]  `json:"name"`
//		Age  rapyer.Int            `json:"age"`
//		Tags rapyer.List[string]   `json:"tags"`
//		Meta rapyer.Dict[string]   `json:"meta"`
//	}
//
// Constructed through New or NewWithKey, every proxy carries a back
// reference to its root instance, so remote-effecting calls like
// Tags.Append or Meta.Set resolve the document key and field pointer
// themselves and issue a single atomic store command. Local-variant calls
// (Set, SetAt, AppendLocal, ...) never touch the network. WithPipeline
// batches a scope's commands into one all-or-nothing transaction, and
// WithLock provides distributed mutual exclusion per (document key,
// action). Documents are stored under "{TypeName}:{PrimaryKey}" and
// type-erased access by bare key goes through the process-wide registry
// (Register, GetByKey, DeleteByKey, LockByKey).
package rapyer
