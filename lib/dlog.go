package lib

import (
	"context"
	"sync"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"

	"go.dedis.ch/sealedsurvey"
)

// MaxPlaintext is the biggest value that can be encrypted and recovered
// from a ciphertext. Sums of ciphertexts must stay below it, too.
const MaxPlaintext = 1<<32 - 1

const babySteps = 1 << 16

// checkEvery is the number of giant steps between two looks at the context.
const checkEvery = 1 << 10

var (
	babyOnce  sync.Once
	babyTable map[string]int64
	giantStep kyber.Point
)

func initTable() {
	suite := sealedsurvey.Suite
	babyTable = make(map[string]int64, babySteps)
	p := suite.Point().Null()
	g := suite.Point().Base()
	for j := int64(0); j < babySteps; j++ {
		buf, err := p.MarshalBinary()
		if err != nil {
			panic(err)
		}
		babyTable[string(buf)] = j
		p = suite.Point().Add(p, g)
	}
	giantStep = suite.Point().Neg(suite.Point().Mul(suite.Scalar().SetInt64(babySteps), nil))
}

// Dlog returns m such that M = mG, for m in [0, MaxPlaintext]. It uses a
// baby-step giant-step search with a table that is computed on first use.
//
// If no such m exists, the error wraps ErrOutOfRange: the point is either
// not an encryption of a small integer, or a sum that overflowed. The
// search stops early with the error of ctx once it is done.
func Dlog(ctx context.Context, M kyber.Point) (int64, error) {
	babyOnce.Do(initTable)
	gamma := M.Clone()
	for i := int64(0); i < babySteps; i++ {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		buf, err := gamma.MarshalBinary()
		if err != nil {
			return 0, err
		}
		if j, ok := babyTable[string(buf)]; ok {
			return i*babySteps + j, nil
		}
		gamma = sealedsurvey.Suite.Point().Add(gamma, giantStep)
	}
	return 0, xerrors.Errorf("no plaintext below %d: %w", int64(MaxPlaintext),
		sealedsurvey.ErrOutOfRange)
}
