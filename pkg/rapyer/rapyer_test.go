package rapyer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yedidyakfir/rapyer-sub000/pkg/rapyer"
	"github.com/yedidyakfir/rapyer-sub000/pkg/store/mock"
)

// User is the primary test model: one proxy per semantic category plus a
// plain struct holding a nested proxy.
type User struct {
	rapyer.Base `json:"-"`
	Name        rapyer.Value[string] `json:"name"`
	Age         rapyer.Int           `json:"age"`
	Score       rapyer.Float64       `json:"score"`
	Tags        rapyer.List[string]  `json:"tags"`
	Meta        rapyer.Dict[string]  `json:"meta"`
	Profile     Profile              `json:"profile"`
}

// Profile is a plain nested struct: it contributes path segments only.
type Profile struct {
	City rapyer.Value[string] `json:"city"`
}

// Account exercises locking and validation.
type Account struct {
	rapyer.Base `json:"-"`
	Owner       rapyer.Value[string] `json:"owner" rapyer:",required"`
	Balance     rapyer.Int           `json:"balance"`
}

// Order exercises a designated primary key field.
type Order struct {
	rapyer.Base `json:"-"`
	ID          rapyer.Value[string] `json:"id" rapyer:",pk"`
	Total       rapyer.Float64       `json:"total" rapyer:",min=0"`
}

// Customer embeds a keyed nested model.
type Customer struct {
	rapyer.Base `json:"-"`
	Name        rapyer.Value[string] `json:"name"`
	Addr        Address              `json:"addr"`
}

// Address is a nested model: saved into its parent document, lockable on
// its own key.
type Address struct {
	rapyer.Base `json:"-"`
	City        rapyer.Value[string] `json:"city"`
	Zip         rapyer.Value[string] `json:"zip"`
}

func init() {
	rapyer.MustRegister[User]()
	rapyer.MustRegister[Account]()
	rapyer.MustRegister[Order]()
	rapyer.MustRegister[Customer]()
}

func newTestClient(t *testing.T) (*rapyer.Client, *mock.Mock) {
	t.Helper()
	backend := mock.New()
	return rapyer.NewClient(backend), backend
}

func newSavedUser(t *testing.T, cli *rapyer.Client, pk string) *User {
	t.Helper()
	u, err := rapyer.NewWithKey[User](cli, pk)
	require.NoError(t, err)
	require.NoError(t, u.Save(context.Background()))
	return u
}
