// Package classifier decides collection membership for catalog items while
// calling the language model as little as possible.
//
// For one collection, Engine.Run reuses stored decisions for items whose
// content hash is unchanged and whose confidence is comfortably away from
// the threshold. Everything else is sent to the model in fixed-size batches.
// The decision store is saved after every batch, so a crash loses at most
// one batch of work. A failing batch is logged and skipped; the run goes on.
//
// An item is included only when its decision says include and its
// confidence reaches the collection threshold.
package classifier
