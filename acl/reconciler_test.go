package acl

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/HermesGermany/galapagos-sub000/cluster"
	"github.com/HermesGermany/galapagos-sub000/errors"
	"github.com/HermesGermany/galapagos-sub000/metric"
	"github.com/HermesGermany/galapagos-sub000/testutil"
)

const app = "User:app1"

var (
	bindingA = topicBinding(app, "a", cluster.OperationRead)
	bindingB = topicBinding(app, "b", cluster.OperationWrite)
	bindingC = topicBinding(app, "c", cluster.OperationRead)
)

func required(bindings ...cluster.Binding) RequiredBindings {
	return RequiredFunc(func(context.Context, string) ([]cluster.Binding, error) {
		return bindings, nil
	})
}

func TestReconcile_Minimal(t *testing.T) {
	ctx := context.Background()
	admin := new(mockAdmin)
	admin.On("DescribeBindings", cluster.PrincipalFilter(app)).Return([]cluster.Binding{bindingA, bindingB}, nil).Once()
	admin.On("DeleteBindings", []cluster.BindingFilter{bindingA.Filter()}).Return([]cluster.Binding{bindingA}, nil).Once()
	admin.On("CreateBindings", []cluster.Binding{bindingC}).Return(struct{}{}, nil).Once()

	r := NewReconciler("dev", admin, required(bindingB, bindingC), nil, nil)
	res, err := r.Reconcile(ctx, app).Get(ctx)
	require.NoError(t, err)

	want := Result{Principal: app, Created: []cluster.Binding{bindingC}, Deleted: []cluster.Binding{bindingA}}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("Reconcile() mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, res.Changed())
	admin.AssertExpectations(t)
}

func TestReconcile_EmptyPrincipal(t *testing.T) {
	ctx := context.Background()
	admin := new(mockAdmin)

	r := NewReconciler("dev", admin, required(bindingA), nil, nil)
	res, err := r.Reconcile(ctx, "").Get(ctx)
	require.NoError(t, err)
	assert.False(t, res.Changed())

	res, err = r.RemoveAll(ctx, "").Get(ctx)
	require.NoError(t, err)
	assert.False(t, res.Changed())

	admin.AssertNotCalled(t, "DescribeBindings", mock.Anything)
}

func TestReconcile_SkipsEmptySteps(t *testing.T) {
	ctx := context.Background()

	t.Run("only create", func(t *testing.T) {
		admin := new(mockAdmin)
		admin.On("DescribeBindings", cluster.PrincipalFilter(app)).Return([]cluster.Binding{bindingA}, nil)
		admin.On("CreateBindings", []cluster.Binding{bindingB}).Return(struct{}{}, nil).Once()

		res, err := NewReconciler("dev", admin, required(bindingA, bindingB), nil, nil).Reconcile(ctx, app).Get(ctx)
		require.NoError(t, err)
		assert.Empty(t, res.Deleted)
		admin.AssertNotCalled(t, "DeleteBindings", mock.Anything)
		admin.AssertExpectations(t)
	})

	t.Run("only delete", func(t *testing.T) {
		admin := new(mockAdmin)
		admin.On("DescribeBindings", cluster.PrincipalFilter(app)).Return([]cluster.Binding{bindingA, bindingB}, nil)
		admin.On("DeleteBindings", []cluster.BindingFilter{bindingB.Filter()}).Return([]cluster.Binding{bindingB}, nil).Once()

		res, err := NewReconciler("dev", admin, required(bindingA), nil, nil).Reconcile(ctx, app).Get(ctx)
		require.NoError(t, err)
		assert.Empty(t, res.Created)
		admin.AssertNotCalled(t, "CreateBindings", mock.Anything)
		admin.AssertExpectations(t)
	})

	t.Run("in sync", func(t *testing.T) {
		admin := new(mockAdmin)
		admin.On("DescribeBindings", cluster.PrincipalFilter(app)).Return([]cluster.Binding{bindingA}, nil)

		res, err := NewReconciler("dev", admin, required(bindingA, bindingA), nil, nil).Reconcile(ctx, app).Get(ctx)
		require.NoError(t, err)
		assert.False(t, res.Changed())
		admin.AssertNotCalled(t, "DeleteBindings", mock.Anything)
		admin.AssertNotCalled(t, "CreateBindings", mock.Anything)
	})
}

func TestReconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	fc := testutil.NewFakeCluster(1)
	fc.SetBindings(bindingA, bindingB, topicBinding("User:other", "a", cluster.OperationRead))

	r := NewReconciler("dev", fc, required(bindingB, bindingC), nil, nil)
	_, err := r.Reconcile(ctx, app).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fc.Calls("DeleteBindings"))
	assert.Equal(t, 1, fc.Calls("CreateBindings"))

	fc.ResetCalls()
	res, err := r.Reconcile(ctx, app).Get(ctx)
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.Equal(t, 1, fc.Calls("DescribeBindings"))
	assert.Equal(t, 0, fc.Calls("DeleteBindings"))
	assert.Equal(t, 0, fc.Calls("CreateBindings"))

	// Bindings of other principals are untouched
	want := []cluster.Binding{bindingB, bindingC, topicBinding("User:other", "a", cluster.OperationRead)}
	assert.ElementsMatch(t, want, fc.Bindings())
}

func TestReconcile_FailFast(t *testing.T) {
	ctx := context.Background()
	boom := errors.WrapTransient(errors.ErrConnectionLost, "Admin", "DeleteBindings", "delete")

	admin := new(mockAdmin)
	admin.On("DescribeBindings", cluster.PrincipalFilter(app)).Return([]cluster.Binding{bindingA}, nil)
	admin.On("DeleteBindings", mock.Anything).Return(nil, boom).Once()

	_, err := NewReconciler("dev", admin, required(bindingB), nil, nil).Reconcile(ctx, app).Get(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConnectionLost)
	admin.AssertNotCalled(t, "CreateBindings", mock.Anything)
}

func TestReconcile_NoRollbackWhenCreateFails(t *testing.T) {
	ctx := context.Background()
	fc := testutil.NewFakeCluster(1)
	fc.SetBindings(bindingA)
	fc.FailNext("CreateBindings", errors.WrapTransient(errors.ErrConnectionLost, "FakeCluster", "CreateBindings", "create"))

	_, err := NewReconciler("dev", fc, required(bindingB), nil, nil).Reconcile(ctx, app).Get(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))

	// The delete already happened and stays
	assert.Empty(t, fc.Bindings())
}

func TestReconcile_DescribeFails(t *testing.T) {
	ctx := context.Background()
	fc := testutil.NewFakeCluster(1)
	fc.FailNext("DescribeBindings", fmt.Errorf("%w: denied", errors.ErrUnauthorized))

	_, err := NewReconciler("dev", fc, required(bindingA), nil, nil).Reconcile(ctx, app).Get(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsAuth(err))
	assert.Equal(t, 0, fc.Calls("CreateBindings"))
}

func TestReconcile_RequiredFails(t *testing.T) {
	ctx := context.Background()
	fc := testutil.NewFakeCluster(1)
	fc.SetBindings(bindingA)
	failing := RequiredFunc(func(context.Context, string) ([]cluster.Binding, error) {
		return nil, errors.ErrInvalidData
	})

	_, err := NewReconciler("dev", fc, failing, nil, nil).Reconcile(ctx, app).Get(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidData)
	assert.Equal(t, 0, fc.Calls("DeleteBindings"))
	assert.Equal(t, []cluster.Binding{bindingA}, fc.Bindings())
}

func TestRemoveAll(t *testing.T) {
	ctx := context.Background()
	other := topicBinding("User:other", "a", cluster.OperationRead)
	fc := testutil.NewFakeCluster(1)
	fc.SetBindings(bindingA, bindingB, other)

	r := NewReconciler("dev", fc, required(bindingA, bindingB), nil, nil)
	res, err := r.RemoveAll(ctx, app).Get(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []cluster.Binding{bindingA, bindingB}, res.Deleted)
	assert.Empty(t, res.Created)
	assert.Equal(t, []cluster.Binding{other}, fc.Bindings())

	// Nothing left to remove
	fc.ResetCalls()
	res, err = r.RemoveAll(ctx, app).Get(ctx)
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.Equal(t, 0, fc.Calls("DeleteBindings"))
}

func TestReconcile_Metrics(t *testing.T) {
	ctx := context.Background()
	metrics, err := NewMetrics(metric.NewMetricsRegistry())
	require.NoError(t, err)

	fc := testutil.NewFakeCluster(1)
	fc.SetBindings(bindingA)
	r := NewReconciler("dev", fc, required(bindingB, bindingC), nil, metrics)

	_, err = r.Reconcile(ctx, app).Get(ctx)
	require.NoError(t, err)

	fc.FailNext("DescribeBindings", errors.ErrConnectionLost)
	_, err = r.Reconcile(ctx, app).Get(ctx)
	require.Error(t, err)

	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.bindingOps.WithLabelValues("dev", "create")))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.bindingOps.WithLabelValues("dev", "delete")))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.reconciles.WithLabelValues("dev", "reconcile", "success")))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.reconciles.WithLabelValues("dev", "reconcile", "failure")))
}
