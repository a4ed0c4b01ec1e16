package webgwas

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type transformSuite struct{}

var _ = check.Suite(&transformSuite{})

// synthetic returns a deterministic subjects x features phenotype
// matrix and a design matrix (covariates + intercept) where the
// phenotypes depend linearly on the covariates plus noise.
func synthetic(n, p, ncovar int, seed int64) (y, x *mat.Dense) {
	rnd := rand.New(rand.NewSource(seed))
	x = mat.NewDense(n, ncovar+1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < ncovar; j++ {
			x.Set(i, j, rnd.NormFloat64())
		}
		x.Set(i, ncovar, 1)
	}
	y = mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			v := rnd.NormFloat64()
			for k := 0; k < ncovar; k++ {
				v += float64(k+1) * x.At(i, k)
			}
			y.Set(i, j, v)
		}
	}
	return y, x
}

func (s *transformSuite) TestResidualOrthogonality(c *check.C) {
	y, x := synthetic(50, 3, 2, 1)
	resid, err := residualize(y, x)
	c.Assert(err, check.IsNil)
	n, p := resid.Dims()
	c.Check(n, check.Equals, 50)
	c.Check(p, check.Equals, 3)
	_, xcols := x.Dims()
	for j := 0; j < p; j++ {
		for k := 0; k < xcols; k++ {
			dot := 0.0
			for i := 0; i < n; i++ {
				dot += resid.At(i, j) * x.At(i, k)
			}
			c.Check(math.Abs(dot) < 1e-8, check.Equals, true,
				check.Commentf("feature %d not orthogonal to design column %d: dot=%g", j, k, dot))
		}
	}
}

func (s *transformSuite) TestLeftInverseIdentity(c *check.C) {
	rnd := rand.New(rand.NewSource(2))
	y := mat.NewDense(30, 4, nil)
	for i := 0; i < 30; i++ {
		for j := 0; j < 4; j++ {
			y.Set(i, j, rnd.NormFloat64())
		}
	}
	linv, err := leftInverse(y)
	c.Assert(err, check.IsNil)
	var prod mat.Dense
	prod.Mul(linv, y)
	rows, cols := prod.Dims()
	c.Assert(rows, check.Equals, 4)
	c.Assert(cols, check.Equals, 4)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			c.Check(math.Abs(prod.At(i, j)-want) < 1e-8, check.Equals, true,
				check.Commentf("(%d,%d) = %g", i, j, prod.At(i, j)))
		}
	}
}

func (s *transformSuite) TestCovarianceSymmetricPSD(c *check.C) {
	y, _ := synthetic(40, 5, 2, 3)
	cov := covarianceMatrix(y)
	p, _ := cov.Dims()
	c.Assert(p, check.Equals, 5)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			c.Check(cov.At(i, j), check.Equals, cov.At(j, i))
		}
	}
	var eig mat.EigenSym
	ok := eig.Factorize(cov, false)
	c.Assert(ok, check.Equals, true)
	for _, v := range eig.Values(nil) {
		c.Check(v > -1e-10, check.Equals, true, check.Commentf("eigenvalue %g", v))
	}
}
