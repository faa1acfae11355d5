// Package recovery decides, after a restart, whether a folder's indexing can
// resume from its last checkpoint or must start over, and writes those
// checkpoints while a scan runs.
//
// A checkpoint is only trusted when the store reports the folder healthy (or
// repairable without losing documents), the embedding model is unchanged, and
// the fresh enumeration has the same fingerprint as the one the checkpoint
// was taken against. Anything else bumps the scan generation and rescans from
// file 0. Reconcile never returns an error; an untrusted folder just gets a
// full-rescan plan.
//
//	plans := coord.Reconcile(ctx, folders)
//	rp := recovery.Resume(plans[path], fingerprint, len(files))
//	cpw := coord.NewCheckpointer(path, model, fingerprint, len(files), rp.Generation, 25, 5*time.Second)
//	for i := rp.Offset; i < len(files); i++ {
//	    ... index files[i] ...
//	    _ = cpw.Advance(ctx, i, files[i])
//	}
//	_ = cpw.Flush(ctx)
package recovery
