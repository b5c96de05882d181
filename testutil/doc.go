// Package testutil provides in-memory test doubles for the cluster seam.
//
// FakeCluster implements cluster.Admin and keeps topics, their record logs
// and granted bindings in memory. Sender and NewConsumer hand out a
// cluster.Sender and cluster.Consumer on the same state, so a replication
// container can run end to end without a NATS server:
//
//	fc := testutil.NewFakeCluster(3)
//	container := replication.NewContainer("dev", cfg, fc, fc.Sender(), fc.NewConsumer(), logger, nil)
//
// Admin results and acknowledgements complete on a separate goroutine, as
// they would with a real client. FailNext, SetSendError and
// FakeConsumer.FailPoll inject errors; Calls counts admin calls per method.
package testutil
